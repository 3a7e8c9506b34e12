// archive exportiert Upload-Batches, Audit-Trail und Evidenz als gzip-JSON-Lines nach S3
// und rotiert ältere Exporte.
package main

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/berntpopp/kidney-genetics-db-sub000/config"
	"github.com/berntpopp/kidney-genetics-db-sub000/services"
	"github.com/berntpopp/kidney-genetics-db-sub000/storage"
)

type ArchiveConfig struct {
	Prefix       string        `envconfig:"ARCHIVE_PREFIX" default:"exports/"`
	KeepArchives int           `envconfig:"KEEP_ARCHIVES" default:"4"`
	Timeout      time.Duration `envconfig:"ARCHIVE_TIMEOUT" default:"30m"`
}

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()
	logger.Info("Starte Archiv-Export...")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Fehler beim Laden der Konfiguration", zap.Error(err))
	}
	var acfg ArchiveConfig
	if err := envconfig.Process("", &acfg); err != nil {
		logger.Fatal("Fehler beim Laden der Archiv-Konfiguration", zap.Error(err))
	}
	if !cfg.S3Enabled() {
		logger.Fatal("S3 ist nicht konfiguriert (STRATO_S3_URL, STRATO_S3_BUCKET, STRATO_S3_KEY)")
	}

	ctx, cancel := context.WithTimeout(context.Background(), acfg.Timeout)
	defer cancel()

	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{})
	if err != nil {
		logger.Fatal("Datenbankverbindung fehlgeschlagen", zap.Error(err))
	}
	store := services.NewEvidenceStore(db, logger)

	// 1. Export erstellen
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	stats, err := store.ExportJSONL(ctx, gz)
	if err != nil {
		logger.Fatal("Fehler beim Export", zap.Error(err))
	}
	if err := gz.Close(); err != nil {
		logger.Fatal("Fehler beim Komprimieren", zap.Error(err))
	}

	// 2. Hochladen
	archive, err := storage.NewS3Archive(ctx, cfg)
	if err != nil {
		logger.Fatal("Fehler beim Erstellen des S3-Clients", zap.Error(err))
	}
	key := fmt.Sprintf("%sevidence-%s.jsonl.gz", acfg.Prefix, time.Now().UTC().Format("2006-01-02T15-04-05Z"))
	link, err := archive.Put(ctx, key, buf.Bytes(), "application/gzip")
	if err != nil {
		logger.Fatal("Fehler beim Hochladen nach S3", zap.Error(err))
	}
	logger.Info("Export hochgeladen",
		zap.String("link", link),
		zap.Int("uploads", stats.Uploads),
		zap.Int("audit", stats.Audit),
		zap.Int("evidence", stats.Evidence),
		zap.Int("bytes", buf.Len()))

	// 3. Alte Exporte rotieren
	deleted, err := storage.Rotate(ctx, archive, acfg.Prefix, acfg.KeepArchives)
	if err != nil {
		logger.Fatal("Fehler bei der Rotation alter Exporte", zap.Error(err))
	}
	for _, k := range deleted {
		logger.Info("Alter Export gelöscht", zap.String("key", k))
	}

	logger.Info("Archiv-Export erfolgreich abgeschlossen.")
}
