package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/berntpopp/kidney-genetics-db-sub000/models"
)

type memoryArchive struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (a *memoryArchive) Put(_ context.Context, key string, data []byte, _ string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.objects == nil {
		a.objects = make(map[string][]byte)
	}
	a.objects[key] = append([]byte(nil), data...)
	return "mem://" + key, nil
}

const panelsCSV = "symbol,providers\nPKD1,Invitae;Blueprint\npkd2,Invitae\n???bad,Invitae\n"

func geneIDs(t *testing.T, env *testEnv, symbols ...string) map[string]uint {
	t.Helper()
	out := make(map[string]uint, len(symbols))
	for _, s := range symbols {
		var g models.Gene
		require.NoError(t, env.db.Where("symbol = ?", s).Take(&g).Error, s)
		out[s] = g.ID
	}
	return out
}

func TestUploadMergeIsIdempotentAndDeduplicated(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	archive := &memoryArchive{}
	svc := NewHybridService(env.store, env.agg, archive, env.logger)

	res, err := svc.Upload(ctx, UploadRequest{Source: "diagnostic_panels", Filename: "panels.csv", Content: []byte(panelsCSV), Uploader: "curator"})
	require.NoError(t, err)
	assert.Equal(t, models.UploadCompleted, res.Status)
	assert.Equal(t, 2, res.GeneCount)
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, 0, res.Merged)
	assert.Equal(t, 1, res.Filtered)
	assert.False(t, res.Duplicate)

	ids := geneIDs(t, env, "PKD1", "PKD2")
	current, err := svc.Identifiers(ctx, "diagnostic_panels")
	require.NoError(t, err)
	assert.Equal(t, map[uint][]string{
		ids["PKD1"]: {"Blueprint", "Invitae"},
		ids["PKD2"]: {"Invitae"},
	}, current)

	score, err := env.agg.GetScore(ctx, ids["PKD1"])
	require.NoError(t, err)
	assert.InDelta(t, 10.0, score.Score, 1e-9) // 2 Anbieter / 5 × Gewicht 1 / Summe 4

	again, err := svc.Upload(ctx, UploadRequest{Source: "diagnostic_panels", Filename: "panels.csv", Content: []byte(panelsCSV), Uploader: "curator"})
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, res.UploadID, again.UploadID)
	assert.Equal(t, res.Created, again.Created)

	// gleicher Inhalt, andere Bytes: keine Änderung an den Mengen
	reordered := "gene,providers\nPKD2,Invitae\nPKD1,Blueprint|Invitae\n"
	res2, err := svc.Upload(ctx, UploadRequest{Source: "diagnostic_panels", Filename: "panels2.csv", Content: []byte(reordered)})
	require.NoError(t, err)
	assert.Equal(t, 0, res2.Created)
	assert.Equal(t, 2, res2.Merged)
	after, err := svc.Identifiers(ctx, "diagnostic_panels")
	require.NoError(t, err)
	assert.Equal(t, current, after)

	uploads, err := svc.ListUploads(ctx, "diagnostic_panels")
	require.NoError(t, err)
	assert.Len(t, uploads, 2)

	archive.mu.Lock()
	defer archive.mu.Unlock()
	assert.Len(t, archive.objects, 2)
	assert.NotEmpty(t, uploads[1].ArchiveKey)
}

func TestUploadJSONLiterature(t *testing.T) {
	env := newTestEnv(t)
	svc := NewHybridService(env.store, env.agg, nil, env.logger)

	content := `{"genes": [{"symbol": "COL4A3", "publications": ["PMID:1", "PMID:2"]}, "NPHS2"]}`
	res, err := svc.Upload(context.Background(), UploadRequest{Source: "literature", Filename: "lit.json", Content: []byte(content)})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.Filtered, "rows without identifiers are dropped")
}

func TestUploadRejectsInvalidRequests(t *testing.T) {
	env := newTestEnv(t)
	svc := NewHybridService(env.store, env.agg, nil, env.logger)
	ctx := context.Background()

	_, err := svc.Upload(ctx, UploadRequest{Source: "pubmed", Content: []byte(panelsCSV)})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = svc.Upload(ctx, UploadRequest{Source: "diagnostic_panels", Mode: ModeReplace, Content: []byte(panelsCSV)})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = svc.Upload(ctx, UploadRequest{Source: "diagnostic_panels", Mode: "append", Content: []byte(panelsCSV)})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = svc.Upload(ctx, UploadRequest{Source: "diagnostic_panels", Content: []byte("  ")})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = svc.Upload(ctx, UploadRequest{Source: "diagnostic_panels", Filename: "x.csv", Content: []byte("name,providers\nPKD1,x\n")})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestUploadReplaceIsAtomic(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	svc := NewHybridService(env.store, env.agg, nil, env.logger)

	_, err := svc.Upload(ctx, UploadRequest{Source: "diagnostic_panels", Filename: "panels.csv", Content: []byte(panelsCSV)})
	require.NoError(t, err)

	res, err := svc.Upload(ctx, UploadRequest{
		Source: "diagnostic_panels", Filename: "invitae.txt", Mode: ModeReplace, Identifier: "Invitae",
		Content: []byte("symbol\nPKD2\nUMOD\n"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.Merged)

	ids := geneIDs(t, env, "PKD1", "PKD2", "UMOD")
	before, err := svc.Identifiers(ctx, "diagnostic_panels")
	require.NoError(t, err)
	assert.Equal(t, map[uint][]string{
		ids["PKD1"]: {"Blueprint"},
		ids["PKD2"]: {"Invitae"},
		ids["UMOD"]: {"Invitae"},
	}, before)

	var fail atomic.Bool
	require.NoError(t, env.db.Callback().Create().Before("gorm:create").Register("test:fail_evidence_insert", func(tx *gorm.DB) {
		if fail.Load() && tx.Statement.Table == "evidence_records" {
			_ = tx.AddError(errors.New("injected insert failure"))
		}
	}))
	fail.Store(true)

	res, err = svc.Upload(ctx, UploadRequest{
		Source: "diagnostic_panels", Filename: "blueprint.txt", Mode: ModeReplace, Identifier: "Blueprint",
		Content: []byte("symbol\nPKD2\nNEWGENE\n"),
	})
	fail.Store(false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUploadFailed)
	assert.Equal(t, models.UploadFailed, res.Status)
	assert.Contains(t, res.Error, "injected insert failure")

	after, err := svc.Identifiers(ctx, "diagnostic_panels")
	require.NoError(t, err)
	assert.Equal(t, before, after, "failed replace leaves evidence unchanged")

	var count int64
	require.NoError(t, env.db.Model(&models.Gene{}).Where("symbol = ?", "NEWGENE").Count(&count).Error)
	assert.Zero(t, count)

	var batch models.UploadBatch
	require.NoError(t, env.db.Take(&batch, res.UploadID).Error)
	assert.Equal(t, models.UploadFailed, batch.Status)

	audit, err := svc.ListAuditTrail(ctx, "diagnostic_panels")
	require.NoError(t, err)
	assert.Equal(t, models.ActionUploadFailed, audit[len(audit)-1].Action)
}

func TestDeleteIdentifier(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	svc := NewHybridService(env.store, env.agg, nil, env.logger)

	_, err := svc.Upload(ctx, UploadRequest{Source: "diagnostic_panels", Filename: "panels.csv", Content: []byte(panelsCSV)})
	require.NoError(t, err)
	ids := geneIDs(t, env, "PKD1", "PKD2")

	res, err := svc.DeleteIdentifier(ctx, "diagnostic_panels", "Invitae", "curator")
	require.NoError(t, err)
	assert.Equal(t, 2, res.GenesAffected)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 1, res.Deleted)

	current, err := svc.Identifiers(ctx, "diagnostic_panels")
	require.NoError(t, err)
	assert.Equal(t, map[uint][]string{ids["PKD1"]: {"Blueprint"}}, current)

	score, err := env.agg.GetScore(ctx, ids["PKD2"])
	require.NoError(t, err)
	assert.Zero(t, score.Score)

	res, err = svc.DeleteIdentifier(ctx, "diagnostic_panels", "Invitae", "curator")
	require.NoError(t, err)
	assert.Zero(t, res.GenesAffected)

	_, err = svc.DeleteIdentifier(ctx, "diagnostic_panels", " ", "curator")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestSoftDeleteUpload(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	svc := NewHybridService(env.store, env.agg, nil, env.logger)

	res, err := svc.Upload(ctx, UploadRequest{Source: "diagnostic_panels", Filename: "panels.csv", Content: []byte(panelsCSV)})
	require.NoError(t, err)
	before, err := svc.Identifiers(ctx, "diagnostic_panels")
	require.NoError(t, err)

	batch, err := svc.SoftDeleteUpload(ctx, res.UploadID, "admin")
	require.NoError(t, err)
	assert.Equal(t, models.UploadDeleted, batch.Status)
	assert.NotNil(t, batch.DeletedAt)

	_, err = svc.SoftDeleteUpload(ctx, res.UploadID, "admin")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = svc.SoftDeleteUpload(ctx, 9999, "admin")
	assert.ErrorIs(t, err, ErrUploadNotFound)

	after, err := svc.Identifiers(ctx, "diagnostic_panels")
	require.NoError(t, err)
	assert.Equal(t, before, after, "soft delete keeps evidence")

	audit, err := svc.ListAuditTrail(ctx, "diagnostic_panels")
	require.NoError(t, err)
	assert.Equal(t, models.ActionSoftDeleteUpload, audit[len(audit)-1].Action)
	assert.Equal(t, "admin", audit[len(audit)-1].PerformedBy)
}

func TestAuditTrailReplaysIdentifierState(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	svc := NewHybridService(env.store, env.agg, nil, env.logger)

	steps := []UploadRequest{
		{Source: "diagnostic_panels", Filename: "a.csv", Content: []byte(panelsCSV)},
		{Source: "diagnostic_panels", Filename: "b.csv", Content: []byte("symbol,providers\nUMOD,Centogene\nPKD1,Centogene\n")},
		{Source: "diagnostic_panels", Filename: "c.txt", Mode: ModeReplace, Identifier: "Invitae", Content: []byte("symbol\nUMOD\nHNF1B\n")},
	}
	for _, req := range steps {
		_, err := svc.Upload(ctx, req)
		require.NoError(t, err, req.Filename)
	}
	_, err := svc.DeleteIdentifier(ctx, "diagnostic_panels", "Blueprint", "curator")
	require.NoError(t, err)
	_, err = svc.DeleteIdentifier(ctx, "diagnostic_panels", "Centogene", "curator")
	require.NoError(t, err)

	entries, err := svc.ListAuditTrail(ctx, "diagnostic_panels")
	require.NoError(t, err)
	assert.Len(t, entries, 5)

	replayed, err := ReplayIdentifiers(entries)
	require.NoError(t, err)
	current, err := svc.Identifiers(ctx, "diagnostic_panels")
	require.NoError(t, err)
	assert.Equal(t, current, replayed)

	ids := geneIDs(t, env, "UMOD", "HNF1B")
	assert.Equal(t, map[uint][]string{ids["UMOD"]: {"Invitae"}, ids["HNF1B"]: {"Invitae"}}, current)
}

func TestTransactRetriesConflicts(t *testing.T) {
	env := newTestEnv(t)
	svc := NewHybridService(env.store, nil, nil, env.logger)

	attempts := 0
	err := svc.transact(context.Background(), func(*gorm.DB) error {
		attempts++
		if attempts < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)

	attempts = 0
	err = svc.transact(context.Background(), func(*gorm.DB) error {
		attempts++
		return errors.New("database is locked")
	})
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, 4, attempts)
}
