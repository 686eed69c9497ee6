package programs

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"case-portal/internal/models"
	"case-portal/internal/store"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreCatalog(t *testing.T) {
	ctx := context.Background()
	catalog := NewStoreCatalog(store.NewMemoryStore())

	require.NoError(t, catalog.Put(ctx, models.Program{Name: "Housing Assistance", ProgramDetail: "Monthly rent support"}))

	p, err := catalog.Get(ctx, "Housing Assistance")
	require.NoError(t, err)
	assert.Equal(t, "Housing Assistance", p.Name)
	assert.Equal(t, "Monthly rent support", p.ProgramDetail)

	_, err = catalog.Get(ctx, "Unknown")
	assert.ErrorIs(t, err, ErrProgramNotFound)
	_, err = catalog.Get(ctx, "")
	assert.ErrorIs(t, err, ErrProgramNotFound)
}

func newSearchCatalog(t *testing.T, handler http.HandlerFunc) *SearchCatalog {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{srv.URL}})
	require.NoError(t, err)
	return NewSearchCatalog(client, "")
}

func TestSearchCatalog_Get(t *testing.T) {
	catalog := newSearchCatalog(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/programs/_doc/Food%20Bank", "/programs/_doc/Food Bank":
			_, _ = io.WriteString(w, `{"_index":"programs","_id":"Food Bank","found":true,"_source":{"program_detail":"Weekly parcels"}}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"_index":"programs","found":false}`)
		}
	})

	p, err := catalog.Get(context.Background(), "Food Bank")
	require.NoError(t, err)
	assert.Equal(t, "Weekly parcels", p.ProgramDetail)
	assert.Equal(t, "Food Bank", p.Name)

	_, err = catalog.Get(context.Background(), "Missing")
	assert.ErrorIs(t, err, ErrProgramNotFound)
}

func TestSearchCatalog_Put(t *testing.T) {
	var method, path, body string
	catalog := newSearchCatalog(t, func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		method, path, body = r.Method, r.URL.Path, string(raw)
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"result":"created"}`)
	})

	err := catalog.Put(context.Background(), models.Program{Name: "Childcare", ProgramDetail: "Daycare vouchers"})
	require.NoError(t, err)
	assert.Equal(t, http.MethodPut, method)
	assert.True(t, strings.HasPrefix(path, "/programs/_doc/Childcare"))
	assert.JSONEq(t, `{"program_detail":"Daycare vouchers"}`, body)
}
