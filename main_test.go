package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/berntpopp/kidney-genetics-db-sub000/cache"
	"github.com/berntpopp/kidney-genetics-db-sub000/config"
	"github.com/berntpopp/kidney-genetics-db-sub000/models"
	"github.com/berntpopp/kidney-genetics-db-sub000/services"
	"github.com/berntpopp/kidney-genetics-db-sub000/workerpool"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(models.All()...))

	logger := zaptest.NewLogger(t)
	c := cache.New(nil, cache.Options{DefaultTTL: time.Hour}, logger)
	pool := workerpool.New(2)
	store := services.NewEvidenceStore(db, logger)
	agg := services.NewAggregator(store, config.DefaultWeights(), c, pool, logger)
	hybrid := services.NewHybridService(store, agg, nil, logger)

	router := gin.New()
	setupGeneRoutes(router, agg)
	setupPercentileRoutes(router, services.NewPercentileService(store, c, pool, time.Second, time.Minute, logger))
	setupSourceRoutes(router, hybrid)
	setupUploadRoutes(router, hybrid)
	return router
}

func multipartUpload(t *testing.T, filename, content string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	fw, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

func serve(router *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestAPIKeyAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(apiKeyAuthMiddleware(&config.Config{APISecretKey: "secret"}))
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	rec := serve(router, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-API-KEY", "secret")
	assert.Equal(t, http.StatusNoContent, serve(router, req).Code)

	open := gin.New()
	open.Use(apiKeyAuthMiddleware(&config.Config{}))
	open.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	assert.Equal(t, http.StatusNoContent, serve(open, httptest.NewRequest(http.MethodGet, "/ping", nil)).Code)
}

func TestNewRouterMiddlewareChain(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := newRouter(&config.Config{APISecretKey: "secret"})
	// Logger, Recovery, API-Key
	assert.Len(t, router.Handlers, 3)
	router.GET("/panic", func(c *gin.Context) { panic("boom") })

	req := httptest.NewRequest(http.MethodGet, "/panic", nil)
	req.Header.Set("X-API-KEY", "secret")
	assert.Equal(t, http.StatusInternalServerError, serve(router, req).Code)

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("X-API-KEY", "secret")
	assert.Equal(t, http.StatusOK, serve(router, req).Code)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: bad mode", services.ErrInvalidRequest), http.StatusBadRequest},
		{services.ErrInvalidTransition, http.StatusBadRequest},
		{services.ErrGeneNotFound, http.StatusNotFound},
		{services.ErrUploadNotFound, http.StatusNotFound},
		{services.ErrJobRunning, http.StatusConflict},
		{fmt.Errorf("%w: upload 3: boom", services.ErrUploadFailed), http.StatusUnprocessableEntity},
		{services.ErrStorageUnavailable, http.StatusServiceUnavailable},
		{fmt.Errorf("other"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}

func TestUploadLifecycleOverHTTP(t *testing.T) {
	router := newTestRouter(t)
	const csv = "symbol,providers\nPKD1,Invitae;Blueprint\nPKD2,Invitae\n"

	body, ct := multipartUpload(t, "panels.csv", csv, map[string]string{"uploader": "curator"})
	req := httptest.NewRequest(http.MethodPost, "/sources/diagnostic_panels/uploads", body)
	req.Header.Set("Content-Type", ct)
	rec := serve(router, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var res services.UploadResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, models.UploadCompleted, res.Status)
	assert.Equal(t, 2, res.Created)

	// identische Datei: kein zweiter Batch
	body, ct = multipartUpload(t, "panels.csv", csv, nil)
	req = httptest.NewRequest(http.MethodPost, "/sources/diagnostic_panels/uploads", body)
	req.Header.Set("Content-Type", ct)
	rec = serve(router, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var dup services.UploadResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dup))
	assert.True(t, dup.Duplicate)
	assert.Equal(t, res.UploadID, dup.UploadID)

	rec = serve(router, httptest.NewRequest(http.MethodGet, "/sources/diagnostic_panels/uploads", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var uploads []models.UploadBatch
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &uploads))
	assert.Len(t, uploads, 1)

	rec = serve(router, httptest.NewRequest(http.MethodGet, "/sources/diagnostic_panels/identifiers", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var ids map[string][]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ids))
	assert.Len(t, ids, 2)

	path := fmt.Sprintf("/uploads/%d", res.UploadID)
	assert.Equal(t, http.StatusOK, serve(router, httptest.NewRequest(http.MethodDelete, path, nil)).Code)
	assert.Equal(t, http.StatusBadRequest, serve(router, httptest.NewRequest(http.MethodDelete, path, nil)).Code)

	rec = serve(router, httptest.NewRequest(http.MethodDelete, "/sources/diagnostic_panels/identifiers/Blueprint", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var del services.DeleteResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &del))
	assert.Equal(t, 1, del.GenesAffected)

	rec = serve(router, httptest.NewRequest(http.MethodGet, "/sources/diagnostic_panels/audit", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var audit []models.AuditEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &audit))
	assert.Len(t, audit, 3)
}

func TestUploadRejectsInvalidRequests(t *testing.T) {
	router := newTestRouter(t)

	body, ct := multipartUpload(t, "genes.csv", "symbol\nPKD1\n", nil)
	req := httptest.NewRequest(http.MethodPost, "/sources/hgnc/uploads", body)
	req.Header.Set("Content-Type", ct)
	assert.Equal(t, http.StatusBadRequest, serve(router, req).Code)

	body, ct = multipartUpload(t, "genes.csv", "symbol\nPKD1\n", map[string]string{"mode": "replace"})
	req = httptest.NewRequest(http.MethodPost, "/sources/literature/uploads", body)
	req.Header.Set("Content-Type", ct)
	assert.Equal(t, http.StatusBadRequest, serve(router, req).Code)

	req = httptest.NewRequest(http.MethodPost, "/sources/literature/uploads", nil)
	assert.Equal(t, http.StatusBadRequest, serve(router, req).Code)
}

func TestGeneRoutes(t *testing.T) {
	router := newTestRouter(t)

	assert.Equal(t, http.StatusBadRequest, serve(router, httptest.NewRequest(http.MethodGet, "/genes/abc/score", nil)).Code)
	assert.Equal(t, http.StatusNotFound, serve(router, httptest.NewRequest(http.MethodGet, "/genes/999/score", nil)).Code)
	assert.Equal(t, http.StatusNotFound, serve(router, httptest.NewRequest(http.MethodGet, "/genes/999/evidence", nil)).Code)

	rec := serve(router, httptest.NewRequest(http.MethodGet, "/percentiles/pubmed/publication_count", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Ranks map[string]float64 `json:"ranks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Ranks)
}
