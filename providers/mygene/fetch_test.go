package mygene

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
)

const batchBody = `[
  {"query":"PKD1","_score":20.1,"entrezgene":5310,"ensembl":{"gene":"ENSG00000008710"},"type_of_gene":"protein-coding","summary":"polycystin"},
  {"query":"PKD1","_score":3.2,"entrezgene":"999999","type_of_gene":"pseudo"},
  {"query":"UMOD","_score":18.0,"entrezgene":"7369","ensembl":[{"gene":"ENSG00000169344"},{"gene":"ENSG0000X"}]},
  {"query":"NOPE","notfound":true}
]`

func TestFetchBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/query", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "PKD1,UMOD,NOPE", r.PostForm.Get("q"))
		assert.Equal(t, "symbol", r.PostForm.Get("scopes"))
		_, _ = w.Write([]byte(batchBody))
	}))
	defer srv.Close()

	f := NewFetcher(&config.Config{MyGeneBaseURL: srv.URL}, zap.NewNop())
	assert.Equal(t, DefaultBatchSize, f.MaxBatchSize())

	out, err := f.FetchBatch(context.Background(), []models.Gene{
		{ID: 1, Symbol: "PKD1"}, {ID: 2, Symbol: "UMOD"}, {ID: 3, Symbol: "NOPE"},
	})
	require.NoError(t, err)
	require.Len(t, out, 2)

	pkd1 := out[1].(*evidence.MyGene)
	assert.Equal(t, "5310", pkd1.EntrezID)
	assert.Equal(t, "ENSG00000008710", pkd1.EnsemblID)
	assert.Equal(t, "protein-coding", pkd1.TypeOfGene)

	umod := out[2].(*evidence.MyGene)
	assert.Equal(t, "7369", umod.EntrezID)
	assert.Equal(t, "ENSG00000169344", umod.EnsemblID)
}

func TestFetchNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"query":"NOPE","notfound":true}]`))
	}))
	defer srv.Close()

	f := NewFetcher(&config.Config{MyGeneBaseURL: srv.URL}, zap.NewNop())
	_, err := f.Fetch(context.Background(), models.Gene{ID: 9, Symbol: "NOPE"})
	assert.ErrorIs(t, err, providers.ErrNotFound)
}
