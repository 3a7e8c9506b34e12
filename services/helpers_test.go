package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/berntpopp/kidney-genetics-db-sub000/cache"
	"github.com/berntpopp/kidney-genetics-db-sub000/config"
	"github.com/berntpopp/kidney-genetics-db-sub000/evidence"
	"github.com/berntpopp/kidney-genetics-db-sub000/models"
	"github.com/berntpopp/kidney-genetics-db-sub000/workerpool"
)

type testEnv struct {
	db     *gorm.DB
	store  *EvidenceStore
	cache  *cache.Cache
	pool   *workerpool.Pool
	agg    *Aggregator
	logger *zap.Logger
}

// newTestEnv öffnet eine In-Memory-SQLite mit genau einer Verbindung, damit alle
// Zugriffe (auch innerhalb von Transaktionen) dieselbe Datenbank sehen.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(models.All()...))

	logger := zaptest.NewLogger(t)
	store := NewEvidenceStore(db, logger)
	c := cache.New(nil, cache.Options{DefaultTTL: time.Hour}, logger)
	pool := workerpool.New(2)
	return &testEnv{
		db:     db,
		store:  store,
		cache:  c,
		pool:   pool,
		agg:    NewAggregator(store, config.DefaultWeights(), c, pool, logger),
		logger: logger,
	}
}

// seedGenes legt Gene an und setzt updated_at in die Vergangenheit.
func (e *testEnv) seedGenes(t *testing.T, symbols ...string) []models.Gene {
	t.Helper()
	ctx := context.Background()
	bySymbol, err := e.store.EnsureGenes(ctx, nil, symbols)
	require.NoError(t, err)
	past := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, e.db.Model(&models.Gene{}).Where("1 = 1").UpdateColumn("updated_at", past).Error)
	out := make([]models.Gene, 0, len(symbols))
	for _, s := range symbols {
		g, ok := bySymbol[s]
		require.True(t, ok, s)
		out = append(out, g)
	}
	return out
}

// stage schreibt ein Payload als staging-Eintrag.
func (e *testEnv) stage(t *testing.T, geneID uint, p evidence.Payload) {
	t.Helper()
	raw, err := evidence.Encode(p)
	require.NoError(t, err)
	require.NoError(t, e.store.UpsertStaging(context.Background(), nil, geneID, p.Source(), "", p.Version(), raw))
}

func intPtr(v int) *int { return &v }

func pubmed(count int) *evidence.PubMed {
	return &evidence.PubMed{SchemaVersion: evidence.PubMedVersion, Query: "q", Count: intPtr(count)}
}

func clinvar(total, pathogenic int) *evidence.ClinVar {
	return &evidence.ClinVar{SchemaVersion: evidence.ClinVarVersion, VariantCount: total, PathogenicCount: pathogenic}
}
