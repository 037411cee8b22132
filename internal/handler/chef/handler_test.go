package chef

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/recipe-chat/backend/internal/model/chef"
)

func setupRouter() *chi.Mux {
	r := chi.NewRouter()
	New(chef.NewMemoryStore(chef.Seed())).RegisterRoutes(r)
	return r
}

func TestListChefs(t *testing.T) {
	resp := httptest.NewRecorder()
	setupRouter().ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/chefs", nil))

	require.Equal(t, http.StatusOK, resp.Code)
	var chefs []chef.Chef
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &chefs))
	assert.Len(t, chefs, len(chef.Seed()))
}

func TestGetChef(t *testing.T) {
	resp := httptest.NewRecorder()
	setupRouter().ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/chefs/green-table", nil))
	require.Equal(t, http.StatusOK, resp.Code)

	resp = httptest.NewRecorder()
	setupRouter().ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/chefs/nobody", nil))
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestListChefsFiltered(t *testing.T) {
	for _, tc := range []struct {
		query string
		want  []string
	}{
		{"?cuisine=italian", []string{"nonna-rosa"}},
		{"?dietary=Vegan", []string{"green-table"}},
		{"?dietary=vegan,dairy-free", []string{"green-table"}},
		{"?dietary=vegan&cuisine=Italian", []string{}},
	} {
		t.Run(tc.query, func(t *testing.T) {
			resp := httptest.NewRecorder()
			setupRouter().ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/chefs"+tc.query, nil))
			require.Equal(t, http.StatusOK, resp.Code)

			var chefs []chef.Chef
			require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &chefs))
			ids := make([]string, 0, len(chefs))
			for _, c := range chefs {
				ids = append(ids, c.ID)
			}
			assert.Equal(t, tc.want, ids)
		})
	}
}
