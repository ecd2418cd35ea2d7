package shared

import (
	"math"
	"net/url"
	"strconv"
)

const (
	defaultPerPage = 20
	maxPerPage     = 100
)

// Pagination contains metadata for paginated listings.
type Pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"perPage"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// PageRequest is the limit/offset window requested by a caller.
type PageRequest struct {
	Page    int
	PerPage int
}

// PageRequestFromQuery reads page and per_page, clamping to sane bounds.
func PageRequestFromQuery(q url.Values) PageRequest {
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	return PageRequest{Page: page, PerPage: perPage}.normalize()
}

func (p PageRequest) normalize() PageRequest {
	if p.PerPage <= 0 {
		p.PerPage = defaultPerPage
	}
	if p.PerPage > maxPerPage {
		p.PerPage = maxPerPage
	}
	if p.Page <= 0 {
		p.Page = 1
	}
	return p
}

// Limit returns the row limit for the window.
func (p PageRequest) Limit() int {
	return p.normalize().PerPage
}

// Offset returns the row offset for the window.
func (p PageRequest) Offset() int {
	n := p.normalize()
	return (n.Page - 1) * n.PerPage
}

// NewPagination computes pagination metadata.
func NewPagination(req PageRequest, total int) Pagination {
	req = req.normalize()
	totalPages := int(math.Ceil(float64(total) / float64(req.PerPage)))
	return Pagination{Page: req.Page, PerPage: req.PerPage, Total: total, TotalPages: totalPages}
}
