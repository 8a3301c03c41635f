package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/preventive-health-engine/internal/domain"
)

// AssessmentRepository persists finalized assessment runs in PostgreSQL.
// The table is append-only and keyed (user_id, version); rows are never
// updated or deleted, which preserves the full risk history.
type AssessmentRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewAssessmentRepository creates a new assessment repository
func NewAssessmentRepository(db *pgxpool.Pool, logger *logrus.Logger) *AssessmentRepository {
	return &AssessmentRepository{
		db:  db,
		log: logger,
	}
}

// SaveAssessment inserts one finalized assessment run
func (r *AssessmentRepository) SaveAssessment(ctx context.Context, result *domain.AssessmentResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encoding assessment: %w", err)
	}

	query := `
		INSERT INTO assessments (
			id, user_id, version, risk_score, severity, payload, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7
		)`

	_, err = r.db.Exec(ctx, query,
		result.Risk.ID,
		result.Risk.UserID,
		result.Risk.Version,
		result.Risk.RiskScore,
		result.Risk.Severity.String(),
		payload,
		result.Risk.CreatedAt,
	)

	if err != nil {
		r.log.WithFields(logrus.Fields{
			"user_id": result.Risk.UserID,
			"version": result.Risk.Version,
			"error":   err,
		}).Error("Failed to save assessment")
		return fmt.Errorf("saving assessment: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"user_id":    result.Risk.UserID,
		"version":    result.Risk.Version,
		"risk_score": result.Risk.RiskScore,
	}).Info("Assessment saved successfully")

	return nil
}

// LatestVersion returns the highest stored version for a user, zero when
// the user has no assessments yet
func (r *AssessmentRepository) LatestVersion(ctx context.Context, userID string) (int64, error) {
	query := `SELECT COALESCE(MAX(version), 0) FROM assessments WHERE user_id = $1`

	var version int64
	if err := r.db.QueryRow(ctx, query, userID).Scan(&version); err != nil {
		r.log.WithFields(logrus.Fields{
			"user_id": userID,
			"error":   err,
		}).Error("Failed to read latest assessment version")
		return 0, fmt.Errorf("reading latest version: %w", err)
	}

	return version, nil
}

// RiskHistory returns every stored risk record for a user in version order
func (r *AssessmentRepository) RiskHistory(ctx context.Context, userID string) ([]domain.OverallRisk, error) {
	query := `
		SELECT payload
		FROM assessments
		WHERE user_id = $1
		ORDER BY version ASC`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"user_id": userID,
			"error":   err,
		}).Error("Failed to query risk history")
		return nil, fmt.Errorf("querying risk history: %w", err)
	}
	defer rows.Close()

	history := make([]domain.OverallRisk, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scanning assessment row: %w", err)
		}

		var result domain.AssessmentResult
		if err := json.Unmarshal(payload, &result); err != nil {
			return nil, fmt.Errorf("decoding assessment payload: %w", err)
		}
		history = append(history, result.Risk)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating assessment rows: %w", err)
	}

	return history, nil
}

// Close releases the underlying connection pool
func (r *AssessmentRepository) Close() error {
	r.db.Close()
	return nil
}
