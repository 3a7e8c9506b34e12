package services

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrConflict: Sperr-Timeout, Deadlock oder Serialisierungsfehler. Wird kurz wiederholt.
	ErrConflict = errors.New("transaction conflict")
	// ErrStorageUnavailable bricht einen Orchestrator-Lauf ab; bereits geschriebene Einträge bleiben.
	ErrStorageUnavailable = errors.New("evidence store unavailable")
	// ErrCalculationTimeout bleibt intern: der Perzentil-Dienst liefert dann den letzten Snapshot.
	ErrCalculationTimeout = errors.New("percentile calculation timed out")

	ErrGeneNotFound      = errors.New("gene not found")
	ErrUploadNotFound    = errors.New("upload not found")
	ErrUploadFailed      = errors.New("upload failed")
	ErrInvalidTransition = errors.New("invalid upload status transition")
	ErrInvalidRequest    = errors.New("invalid request")
	ErrJobRunning        = errors.New("job already running")
)

// PostgreSQL SQLSTATE-Codes, die als Konflikt gelten.
var conflictCodes = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"55P03": true, // lock_not_available
}

// isConflict erkennt wiederholbare Transaktionskonflikte (PostgreSQL und SQLite).
func isConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConflict) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return conflictCodes[pgErr.Code]
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}
