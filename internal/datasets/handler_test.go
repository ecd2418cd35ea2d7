package datasets

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/opencatalog/catalog/internal/authz"
)

func newTestRouter(f fixture, rc authz.RoleContext) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(authz.WithRoleContext(req.Context(), rc)))
		})
	})
	r.Route("/datasets", NewHandler(nil, f.svc).MountRoutes)
	return r
}

func TestHandlerCreateGetAndStaleUpdate(t *testing.T) {
	f := newFixture(t)
	owner := contributor()
	router := newTestRouter(f, owner)

	body := `{"kind":"controlled","title":"Sensors","endpointUrl":"https://feeds.example.org/s","credentials":"k"}`
	res := httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/datasets/", strings.NewReader(body)))
	require.Equal(t, http.StatusCreated, res.Code)
	require.Equal(t, `"1"`, res.Header().Get("ETag"))

	var created View
	require.NoError(t, json.NewDecoder(res.Body).Decode(&created))
	require.Equal(t, "pending", string(created.State))
	require.NotNil(t, created.Details)

	res = httptest.NewRecorder()
	router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/datasets/"+created.ID.String(), nil))
	require.Equal(t, http.StatusOK, res.Code)

	req := httptest.NewRequest(http.MethodPatch, "/datasets/"+created.ID.String(), strings.NewReader(`{"title":"Renamed"}`))
	req.Header.Set("If-Match", `"7"`)
	res = httptest.NewRecorder()
	router.ServeHTTP(res, req)
	require.Equal(t, http.StatusConflict, res.Code)

	req = httptest.NewRequest(http.MethodPatch, "/datasets/"+created.ID.String(), strings.NewReader(`{"title":"Renamed"}`))
	req.Header.Set("If-Match", `"1"`)
	res = httptest.NewRecorder()
	router.ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, `"2"`, res.Header().Get("ETag"))
}

func TestHandlerHidesDetailsFromAnonymous(t *testing.T) {
	f := newFixture(t)
	created, err := f.svc.Create(t.Context(), admin(), controlledInput("Sensors"))
	require.NoError(t, err)

	res := httptest.NewRecorder()
	newTestRouter(f, authz.Anonymous()).ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/datasets/"+created.ID.String(), nil))
	require.Equal(t, http.StatusOK, res.Code)
	require.NotContains(t, res.Body.String(), "token=abc")
	require.NotContains(t, res.Body.String(), "details")

	res = httptest.NewRecorder()
	newTestRouter(f, authz.Anonymous()).ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/datasets/not-an-id", nil))
	require.Equal(t, http.StatusNotFound, res.Code)

	res = httptest.NewRecorder()
	newTestRouter(f, authz.Anonymous()).ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/datasets/", strings.NewReader(`{"kind":"open","title":"x"}`)))
	require.Equal(t, http.StatusUnauthorized, res.Code)
}
