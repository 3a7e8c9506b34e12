package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUploadKey(t *testing.T) {
	assert.Equal(t, "uploads/diagnostic_panels/abc123.csv", UploadKey("diagnostic_panels", "abc123", "Panel.CSV"))
	assert.Equal(t, "uploads/literature/abc123", UploadKey("literature", "abc123", ""))
}

func TestS3ArchivePut(t *testing.T) {
	var (
		mu   sync.Mutex
		path string
		body []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if r.Method == http.MethodPut {
			path = r.URL.Path
			body, _ = io.ReadAll(r.Body)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client, err := NewS3Client(context.Background(), srv.URL, "eu-central-1", "key", "secret")
	require.NoError(t, err)
	archive := NewS3ArchiveFromClient(client, "uploads-bucket", srv.URL)

	link, err := archive.Put(context.Background(), "uploads/literature/abc.json", []byte(`[]`), "application/json")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/uploads-bucket/uploads/literature/abc.json", link)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "/uploads-bucket/uploads/literature/abc.json", path)
	assert.Contains(t, string(body), "[]")
}

type fakeArchive struct {
	objects []Object
	deleted []string
}

func (f *fakeArchive) Put(_ context.Context, key string, _ []byte, _ string) (string, error) {
	f.objects = append(f.objects, Object{Key: key, LastModified: time.Now()})
	return key, nil
}

func (f *fakeArchive) List(_ context.Context, _ string) ([]Object, error) { return f.objects, nil }

func (f *fakeArchive) Delete(_ context.Context, keys ...string) error {
	f.deleted = append(f.deleted, keys...)
	return nil
}

func TestRotate(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := &fakeArchive{}
	for i, k := range []string{"exports/a", "exports/b", "exports/c", "exports/d", "exports/e"} {
		a.objects = append(a.objects, Object{Key: k, LastModified: base.Add(time.Duration(i) * time.Hour)})
	}

	stale, err := Rotate(context.Background(), a, "exports/", 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"exports/a", "exports/b"}, stale)
	assert.Equal(t, stale, a.deleted)

	a.deleted = nil
	stale, err = Rotate(context.Background(), a, "exports/", 10)
	require.NoError(t, err)
	assert.Empty(t, stale)
	assert.Empty(t, a.deleted)
}
