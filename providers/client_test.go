package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/berntpopp/kidney-genetics-db-sub000/models"
	"github.com/berntpopp/kidney-genetics-db-sub000/resilience"
)

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, 5*time.Second, parseRetryAfter("5", now))
	assert.Equal(t, 90*time.Second, parseRetryAfter(now.Add(90*time.Second).Format(http.TimeFormat), now))
	assert.Zero(t, parseRetryAfter("", now))
	assert.Zero(t, parseRetryAfter("soon", now))
}

func TestClientSetsUserAgentAndCapsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasPrefix(r.Header.Get("User-Agent"), "kidney-genetics-fetcher/"))
		if r.URL.Path == "/big" {
			_, _ = w.Write([]byte(`"` + strings.Repeat("a", maxBodyBytes) + `"`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := NewClient("test", time.Second)
	var out struct{ OK bool }
	require.NoError(t, c.GetJSON(context.Background(), srv.URL+"/small", &out))
	assert.True(t, out.OK)

	var s string
	err := c.GetJSON(context.Background(), srv.URL+"/big", &s)
	assert.Equal(t, resilience.KindValidation, resilience.Classify(err))
}

func TestClientCanceledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := NewClient("test", time.Minute).GetJSON(ctx, srv.URL, nil)
	assert.Equal(t, resilience.KindTransient, resilience.Classify(err), "per-call timeout counts as transient")
}

func TestChunk(t *testing.T) {
	genes := make([]models.Gene, 250)
	chunks := Chunk(genes, 100)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[2], 50)
	assert.Empty(t, Chunk(nil, 10))
}
