package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/preventive-health-engine/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS assessments (
    id         TEXT PRIMARY KEY,
    user_id    TEXT NOT NULL,
    version    INTEGER NOT NULL,
    risk_score REAL NOT NULL,
    severity   TEXT NOT NULL,
    payload    TEXT NOT NULL,
    created_at TEXT NOT NULL,
    UNIQUE (user_id, version)
);
CREATE INDEX IF NOT EXISTS idx_assessments_user_version
    ON assessments (user_id, version);
`

// SQLiteStore is the single-file assessment audit store for deployments
// without a database daemon. Same append-only contract as the postgres
// repository: rows keyed (user_id, version), never updated.
type SQLiteStore struct {
	db  *sql.DB
	log *logrus.Logger
}

// NewSQLiteStore opens or creates the store at the given path
func NewSQLiteStore(path string, logger *logrus.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite store: %w", err)
	}
	// the sqlite driver serializes writes itself; a single connection
	// avoids table-lock errors under concurrent assessments
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db, log: logger}
	if err := store.init(); err != nil {
		db.Close()
		return nil, err
	}

	logger.WithField("path", path).Info("SQLite audit store opened")
	return store, nil
}

// NewSQLiteStoreWithDB wraps an existing database handle. The schema must
// already exist.
func NewSQLiteStoreWithDB(db *sql.DB, logger *logrus.Logger) *SQLiteStore {
	return &SQLiteStore{db: db, log: logger}
}

func (s *SQLiteStore) init() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("initializing sqlite schema: %w", err)
	}
	return nil
}

// SaveAssessment inserts one finalized assessment run
func (s *SQLiteStore) SaveAssessment(ctx context.Context, result *domain.AssessmentResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encoding assessment: %w", err)
	}

	query := `
		INSERT INTO assessments (id, user_id, version, risk_score, severity, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, query,
		result.Risk.ID,
		result.Risk.UserID,
		result.Risk.Version,
		result.Risk.RiskScore,
		result.Risk.Severity.String(),
		string(payload),
		result.Risk.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"user_id": result.Risk.UserID,
			"version": result.Risk.Version,
			"error":   err,
		}).Error("Failed to save assessment")
		return fmt.Errorf("saving assessment: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"user_id":    result.Risk.UserID,
		"version":    result.Risk.Version,
		"risk_score": result.Risk.RiskScore,
	}).Info("Assessment saved successfully")

	return nil
}

// LatestVersion returns the highest stored version for a user, zero when
// the user has no assessments yet
func (s *SQLiteStore) LatestVersion(ctx context.Context, userID string) (int64, error) {
	query := `SELECT COALESCE(MAX(version), 0) FROM assessments WHERE user_id = ?`

	var version int64
	if err := s.db.QueryRowContext(ctx, query, userID).Scan(&version); err != nil {
		return 0, fmt.Errorf("reading latest version: %w", err)
	}
	return version, nil
}

// RiskHistory returns every stored risk record for a user in version order
func (s *SQLiteStore) RiskHistory(ctx context.Context, userID string) ([]domain.OverallRisk, error) {
	query := `
		SELECT payload
		FROM assessments
		WHERE user_id = ?
		ORDER BY version ASC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("querying risk history: %w", err)
	}
	defer rows.Close()

	history := make([]domain.OverallRisk, 0)
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scanning assessment row: %w", err)
		}

		var result domain.AssessmentResult
		if err := json.Unmarshal([]byte(payload), &result); err != nil {
			return nil, fmt.Errorf("decoding assessment payload: %w", err)
		}
		history = append(history, result.Risk)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating assessment rows: %w", err)
	}

	return history, nil
}

// Close closes the underlying database handle
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
