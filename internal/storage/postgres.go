/**
 * PostgreSQL Client for the Document Verification Worker
 *
 * Persists committed documents and reads the applicant's declared profile.
 */

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"time"

	_ "github.com/lib/pq"

	"github.com/educaid/docverify-worker/internal/verification"
)

// PostgresClient handles database operations
type PostgresClient struct {
	db *sql.DB
}

// NewPostgresClient creates a new PostgreSQL client
func NewPostgresClient(databaseURL string) (*PostgresClient, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresClient{db: db}, nil
}

// NewPostgresClientFromDB wraps an already opened handle.
func NewPostgresClientFromDB(db *sql.DB) *PostgresClient {
	return &PostgresClient{db: db}
}

// sanitizeConfidence clamps a percentage to [0, 100] and rounds it to 2
// decimals so NUMERIC(5,2) columns never see float noise like 96.32000000000001.
func sanitizeConfidence(confidence float64) float64 {
	if math.IsNaN(confidence) || confidence < 0 {
		return 0
	}
	if confidence > 100 {
		return 100
	}
	return math.Round(confidence*100) / 100
}

var (
	nullEscape    = regexp.MustCompile(`\\u0000`)
	controlEscape = regexp.MustCompile(`\\u00[01][0-9a-fA-F]`)
)

// sanitizeJSONForPostgres strips escape sequences JSONB rejects. OCR text
// occasionally carries NUL and control characters into raw field values.
func sanitizeJSONForPostgres(jsonBytes []byte) []byte {
	result := nullEscape.ReplaceAll(jsonBytes, []byte{})
	return controlEscape.ReplaceAll(result, []byte(" "))
}

// GetDeclaredProfile loads the names, course, school and barangay the
// applicant registered with.
func (p *PostgresClient) GetDeclaredProfile(ctx context.Context, applicantID string) (verification.Profile, error) {
	if applicantID == "" {
		return verification.Profile{}, fmt.Errorf("applicant ID is required")
	}

	query := `
		SELECT
			s.first_name,
			COALESCE(s.middle_name, ''),
			s.last_name,
			COALESCE(c.course_name, s.course, ''),
			COALESCE(u.name, ''),
			COALESCE(yl.year_level_name, ''),
			COALESCE(b.name, '')
		FROM students s
		LEFT JOIN universities u ON s.university_id = u.university_id
		LEFT JOIN year_levels yl ON s.year_level_id = yl.year_level_id
		LEFT JOIN barangays b ON s.barangay_id = b.barangay_id
		LEFT JOIN courses c ON s.course_id = c.course_id
		WHERE s.student_id = $1
	`

	profile := verification.Profile{ApplicantID: applicantID}
	err := p.db.QueryRowContext(ctx, query, applicantID).Scan(
		&profile.FirstName,
		&profile.MiddleName,
		&profile.LastName,
		&profile.Course,
		&profile.University,
		&profile.YearLevel,
		&profile.Barangay,
	)
	if err == sql.ErrNoRows {
		return verification.Profile{}, fmt.Errorf("applicant not found: %s", applicantID)
	}
	if err != nil {
		return verification.Profile{}, fmt.Errorf("failed to load profile for %s: %w", applicantID, err)
	}
	return profile, nil
}

func marshalVerification(res *verification.Result) ([]byte, error) {
	if res == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal verification: %w", err)
	}
	return sanitizeJSONForPostgres(data), nil
}

// Ping checks database connectivity
func (p *PostgresClient) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the database connection
func (p *PostgresClient) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

// GetStats returns connection pool statistics
func (p *PostgresClient) GetStats() sql.DBStats {
	return p.db.Stats()
}
