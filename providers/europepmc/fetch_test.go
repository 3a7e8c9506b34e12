package europepmc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/berntpopp/kidney-genetics-db-sub000/config"
	"github.com/berntpopp/kidney-genetics-db-sub000/evidence"
	"github.com/berntpopp/kidney-genetics-db-sub000/models"
	"github.com/berntpopp/kidney-genetics-db-sub000/providers"
	"github.com/berntpopp/kidney-genetics-db-sub000/resilience"
)

func fetcherFor(t *testing.T, body string, status int) *Fetcher {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, `"NPHS1" AND ORGANISM:"Homo sapiens"`, r.URL.Query().Get("query"))
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return NewFetcher(&config.Config{EuropePMCBaseURL: srv.URL}, zap.NewNop())
}

func TestFetch(t *testing.T) {
	gene := models.Gene{ID: 3, Symbol: "NPHS1"}

	t.Run("hits", func(t *testing.T) {
		f := fetcherFor(t, `{"version":"6.9","hitCount":412,"resultList":{"result":[{"id":"1","source":"MED","pmid":"1"}]}}`, http.StatusOK)
		p, err := f.Fetch(context.Background(), gene)
		require.NoError(t, err)
		assert.Equal(t, 412, p.(*evidence.EuropePMC).HitCount)
	})

	t.Run("empty envelope is not found", func(t *testing.T) {
		f := fetcherFor(t, `{"version":"6.9","hitCount":0,"resultList":{"result":[]}}`, http.StatusOK)
		_, err := f.Fetch(context.Background(), gene)
		assert.ErrorIs(t, err, providers.ErrNotFound)
		assert.Equal(t, resilience.KindNotFound, resilience.Classify(err))
	})

	t.Run("missing hitCount is malformed", func(t *testing.T) {
		f := fetcherFor(t, `{"version":"6.9"}`, http.StatusOK)
		_, err := f.Fetch(context.Background(), gene)
		assert.Equal(t, resilience.KindValidation, resilience.Classify(err))
	})

	t.Run("5xx is transient", func(t *testing.T) {
		f := fetcherFor(t, `down`, http.StatusServiceUnavailable)
		_, err := f.Fetch(context.Background(), gene)
		assert.Equal(t, resilience.KindTransient, resilience.Classify(err))
	})
}
