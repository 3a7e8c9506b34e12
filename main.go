package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/berntpopp/kidney-genetics-db-sub000/cache"
	"github.com/berntpopp/kidney-genetics-db-sub000/config"
	"github.com/berntpopp/kidney-genetics-db-sub000/models"
	"github.com/berntpopp/kidney-genetics-db-sub000/progress"
	"github.com/berntpopp/kidney-genetics-db-sub000/providers"
	"github.com/berntpopp/kidney-genetics-db-sub000/providers/clinvar"
	"github.com/berntpopp/kidney-genetics-db-sub000/providers/europepmc"
	"github.com/berntpopp/kidney-genetics-db-sub000/providers/hgnc"
	"github.com/berntpopp/kidney-genetics-db-sub000/providers/mygene"
	"github.com/berntpopp/kidney-genetics-db-sub000/providers/pubmed"
	"github.com/berntpopp/kidney-genetics-db-sub000/services"
	"github.com/berntpopp/kidney-genetics-db-sub000/storage"
	"github.com/berntpopp/kidney-genetics-db-sub000/workerpool"
)

const maxUploadBytes = 32 << 20

var (
	pipelineRunsCounter *prometheus.CounterVec
	uploadsCounter      *prometheus.CounterVec
)

func init() {
	pipelineRunsCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_runs_total",
			Help: "Total number of orchestrator runs by strategy and outcome.",
		},
		[]string{"strategy", "outcome"},
	)
	uploadsCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hybrid_uploads_total",
			Help: "Total number of curator uploads by source and status.",
		},
		[]string{"source", "status"},
	)
	prometheus.MustRegister(pipelineRunsCounter, uploadsCounter)
}

func apiKeyAuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.APISecretKey == "" {
			c.Next()
			return
		}
		apiKey := c.GetHeader("X-API-KEY")
		if apiKey != cfg.APISecretKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid API Key"})
			return
		}
		c.Next()
	}
}

func main() {
	logging, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("Config load error", zap.Error(err))
	}
	weights, err := config.LoadWeights(cfg.WeightsFile)
	if err != nil {
		logging.Fatal("Weights load error", zap.Error(err), zap.String("file", cfg.WeightsFile))
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		logging.Fatal("Failed to connect to database", zap.Error(err))
	}
	logging.Info("Successfully connected to evidence database.")

	logging.Info("Running database auto-migration...")
	if err := db.AutoMigrate(models.All()...); err != nil {
		logging.Fatal("Auto-migration failed", zap.Error(err))
	}

	ctx := context.Background()

	// Redis ist optional: ohne Redis laufen Cache und Fortschritt nur prozesslokal.
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	var l2 cache.Store
	sinks := []progress.Sink{progress.LogSink{Logger: logging}}
	if store, err := cache.NewRedisStore(ctx, rdb, "kgdb:"); err != nil {
		logging.Warn("Redis nicht erreichbar, Cache nur prozesslokal", zap.Error(err), zap.String("addr", cfg.RedisAddr))
	} else {
		l2 = store
		if sink, err := progress.NewRedisSink(ctx, rdb, cfg.ProgressChannel, logging); err == nil {
			sinks = append(sinks, sink)
		}
	}
	evidenceCache := cache.New(l2, cache.Options{
		TTLs: map[string]time.Duration{
			cache.NamespaceAnnotation: cfg.CacheAnnotationTTL,
			cache.NamespaceEvidence:   cfg.CacheEvidenceTTL,
			cache.NamespacePercentile: cfg.CachePercentileTTL,
		},
		DefaultTTL: cfg.CacheEvidenceTTL,
		L1Size:     cfg.CacheL1Size,
	}, logging)

	// Setup Providers
	var adapters []providers.Adapter
	for _, name := range cfg.Providers() {
		switch name {
		case "hgnc":
			adapters = append(adapters, hgnc.NewFetcher(cfg, logging))
		case "mygene":
			adapters = append(adapters, mygene.NewFetcher(cfg, logging))
		case "pubmed":
			adapters = append(adapters, pubmed.NewFetcher(cfg, logging))
		case "europepmc":
			adapters = append(adapters, europepmc.NewFetcher(cfg, logging))
		case "clinvar":
			adapters = append(adapters, clinvar.NewFetcher(cfg, logging))
		default:
			logging.Warn("Unknown provider in config", zap.String("provider_name", name))
		}
	}
	if len(adapters) == 0 {
		logging.Fatal("No valid providers enabled. Check ENABLED_PROVIDERS in .env")
	}
	logging.Info("Active providers loaded", zap.Strings("providers", cfg.Providers()))

	// Setup Services
	pool := workerpool.New(cfg.WorkerPoolSize)
	store := services.NewEvidenceStore(db, logging)
	aggregator := services.NewAggregator(store, weights, evidenceCache, pool, logging)
	percentiles := services.NewPercentileService(store, evidenceCache, pool, cfg.PercentileTimeout, cfg.PercentileInterval, logging)
	fetchService := services.NewFetchService(cfg, logging, services.FetchDeps{
		Store:      store,
		Adapters:   adapters,
		Cache:      evidenceCache,
		Pool:       pool,
		Aggregator: aggregator,
		Progress:   progress.NewPublisher(logging, sinks...),
	})

	var archive storage.Archive
	if cfg.S3Enabled() {
		s3Archive, err := storage.NewS3Archive(ctx, cfg)
		if err != nil {
			logging.Fatal("S3 client creation failed", zap.Error(err))
		}
		archive = s3Archive
	} else {
		logging.Info("S3 nicht konfiguriert, Uploads werden nicht archiviert")
	}
	hybridService := services.NewHybridService(store, aggregator, archive, logging)

	router := newRouter(cfg)

	// Setup Routes
	setupFetchRoutes(router, fetchService)
	setupGeneRoutes(router, aggregator)
	setupPercentileRoutes(router, percentiles)
	setupSourceRoutes(router, hybridService)
	setupUploadRoutes(router, hybridService)

	// Setup Cron
	cronScheduler := cron.New()
	_, err = cronScheduler.AddFunc(cfg.CronSchedule, func() {
		logging.Info("Running scheduled incremental fetch...")
		runFetch(context.Background(), fetchService, services.FetchRequest{
			JobName:  "scheduled-incremental",
			Strategy: services.StrategyIncremental,
		})
	})
	if err != nil {
		logging.Fatal("Invalid cron schedule", zap.Error(err), zap.String("schedule", cfg.CronSchedule))
	}
	cronScheduler.Start()

	logging.Info("Starting server", zap.String("port", cfg.HTTPPort))
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		logging.Fatal("Failed to run server", zap.Error(err))
	}
}

// newRouter erstellt die Gin-Engine mit Logger, Recovery (beide aus gin.Default), API-Key und /metrics.
func newRouter(cfg *config.Config) *gin.Engine {
	router := gin.Default()
	router.Use(apiKeyAuthMiddleware(cfg))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.MaxMultipartMemory = maxUploadBytes
	return router
}

// runFetch führt einen Lauf aus und zählt das Ergebnis.
func runFetch(ctx context.Context, fs *services.FetchService, req services.FetchRequest) (*services.RunResult, error) {
	result, err := fs.FetchBatch(ctx, req)
	outcome := "completed"
	switch {
	case err != nil:
		outcome = "failed"
		fs.Logger.Error("Fetch run failed", zap.String("job_name", req.JobName), zap.Error(err))
	case result.Paused:
		outcome = "paused"
	}
	pipelineRunsCounter.WithLabelValues(string(req.Strategy), outcome).Inc()
	if result != nil {
		fs.Logger.Info("Fetch run finished",
			zap.String("job_name", req.JobName),
			zap.String("outcome", outcome),
			zap.Int("processed", result.Processed),
			zap.Int("total", result.Total))
	}
	return result, err
}

// statusFor bildet Service-Fehler auf HTTP-Status ab.
func statusFor(err error) int {
	switch {
	case services.IsClientError(err):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrGeneNotFound), errors.Is(err, services.ErrUploadNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrJobRunning), errors.Is(err, services.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, services.ErrUploadFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, services.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(statusFor(err), gin.H{"error": err.Error()})
}

func parseID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return uint(id), true
}

// actor liest den ausführenden Kurator aus Formular oder Header.
func actor(c *gin.Context) string {
	if u := c.PostForm("uploader"); u != "" {
		return u
	}
	if u := c.GetHeader("X-USER"); u != "" {
		return u
	}
	return "api"
}

func setupFetchRoutes(router *gin.Engine, fetchService *services.FetchService) {
	rg := router.Group("/fetch")

	// Standardmäßig asynchron; mit ?wait=true wird das Ergebnis direkt geliefert.
	rg.POST("", func(c *gin.Context) {
		var req services.FetchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.Strategy == "" {
			req.Strategy = services.StrategyIncremental
		}
		if req.JobName == "" {
			req.JobName = "api-" + string(req.Strategy)
		}
		if c.Query("wait") == "true" {
			result, err := runFetch(c.Request.Context(), fetchService, req)
			if err != nil {
				abortWithError(c, err)
				return
			}
			c.JSON(http.StatusOK, result)
			return
		}
		go runFetch(context.Background(), fetchService, req)
		c.JSON(http.StatusAccepted, gin.H{"message": "Fetch triggered.", "job_name": req.JobName})
	})
	rg.POST("/:job/pause", func(c *gin.Context) {
		if err := fetchService.Pause(c.Request.Context(), c.Param("job")); err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Pause requested.", "job_name": c.Param("job")})
	})
	rg.GET("/:job/checkpoint", func(c *gin.Context) {
		cp, err := fetchService.Checkpoint(c.Request.Context(), c.Param("job"))
		if err != nil {
			abortWithError(c, err)
			return
		}
		if cp == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no checkpoint for job"})
			return
		}
		c.JSON(http.StatusOK, cp)
	})
	router.GET("/sources", func(c *gin.Context) {
		out := make([]gin.H, 0, len(fetchService.Sources()))
		for _, name := range fetchService.Sources() {
			out = append(out, gin.H{
				"source":    name,
				"available": fetchService.Controller(name).Available(),
				"breaker":   fetchService.Controller(name).Breaker().State().String(),
			})
		}
		c.JSON(http.StatusOK, out)
	})
}

func setupGeneRoutes(router *gin.Engine, aggregator *services.Aggregator) {
	rg := router.Group("/genes")
	rg.GET("/:id/evidence", func(c *gin.Context) {
		id, ok := parseID(c, "id")
		if !ok {
			return
		}
		ev, err := aggregator.GetEvidence(c.Request.Context(), id)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, ev)
	})
	rg.GET("/:id/score", func(c *gin.Context) {
		id, ok := parseID(c, "id")
		if !ok {
			return
		}
		score, err := aggregator.GetScore(c.Request.Context(), id)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, score)
	})
	rg.POST("/:id/recompute", func(c *gin.Context) {
		id, ok := parseID(c, "id")
		if !ok {
			return
		}
		score, err := aggregator.CurateAndRecompute(c.Request.Context(), id)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, score)
	})
}

func setupPercentileRoutes(router *gin.Engine, percentiles *services.PercentileService) {
	router.GET("/percentiles/:source/:metric", func(c *gin.Context) {
		source, metric := c.Param("source"), c.Param("metric")
		ranks := percentiles.GetPercentiles(c.Request.Context(), source, metric)
		resp := gin.H{"source": source, "metric": metric, "ranks": ranks}
		if snap, ok := percentiles.Snapshot(source, metric); ok {
			resp["computed_at"] = snap.ComputedAt
		}
		c.JSON(http.StatusOK, resp)
	})
}

func setupSourceRoutes(router *gin.Engine, hybrid *services.HybridService) {
	rg := router.Group("/sources/:source")
	rg.GET("/identifiers", func(c *gin.Context) {
		ids, err := hybrid.Identifiers(c.Request.Context(), c.Param("source"))
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, ids)
	})
	rg.DELETE("/identifiers/:identifier", func(c *gin.Context) {
		res, err := hybrid.DeleteIdentifier(c.Request.Context(), c.Param("source"), c.Param("identifier"), actor(c))
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	})
	rg.GET("/audit", func(c *gin.Context) {
		entries, err := hybrid.ListAuditTrail(c.Request.Context(), c.Param("source"))
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, entries)
	})
}

func setupUploadRoutes(router *gin.Engine, hybrid *services.HybridService) {
	router.POST("/sources/:source/uploads", func(c *gin.Context) {
		source := c.Param("source")
		fh, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "multipart field 'file' required"})
			return
		}
		f, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		defer f.Close()
		content, err := io.ReadAll(io.LimitReader(f, maxUploadBytes+1))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if len(content) > maxUploadBytes {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "upload too large"})
			return
		}

		res, err := hybrid.Upload(c.Request.Context(), services.UploadRequest{
			Source:     source,
			Filename:   fh.Filename,
			Content:    content,
			Mode:       services.UploadMode(c.DefaultPostForm("mode", string(services.ModeMerge))),
			Identifier: c.PostForm("identifier"),
			Uploader:   actor(c),
		})
		if res != nil {
			uploadsCounter.WithLabelValues(source, string(res.Status)).Inc()
		}
		if err != nil {
			resp := gin.H{"error": err.Error()}
			if res != nil {
				resp["result"] = res
			}
			c.AbortWithStatusJSON(statusFor(err), resp)
			return
		}
		status := http.StatusCreated
		if res.Duplicate {
			status = http.StatusOK
		}
		c.JSON(status, res)
	})
	router.GET("/sources/:source/uploads", func(c *gin.Context) {
		uploads, err := hybrid.ListUploads(c.Request.Context(), c.Param("source"))
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, uploads)
	})
	router.DELETE("/uploads/:id", func(c *gin.Context) {
		id, ok := parseID(c, "id")
		if !ok {
			return
		}
		batch, err := hybrid.SoftDeleteUpload(c.Request.Context(), id, actor(c))
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, batch)
	})
}
