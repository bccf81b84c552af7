package publish

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SQLLedger persists the publish history through database/sql. It
// works against SQLite (driver "sqlite") for single-host runs and
// Postgres (driver "postgres") for shared release infrastructure.
type SQLLedger struct {
	db *sql.DB
}

// NewSQLLedger wraps an open database handle.
func NewSQLLedger(db *sql.DB) *SQLLedger {
	return &SQLLedger{db: db}
}

const publishSchema = `
CREATE TABLE IF NOT EXISTS publish_records (
	id TEXT PRIMARY KEY,
	package_name TEXT NOT NULL,
	version TEXT NOT NULL,
	platform TEXT NOT NULL,
	index_record_id TEXT,
	checksums TEXT,
	published_at TIMESTAMP NOT NULL,
	status TEXT NOT NULL
);
`

// Init creates the ledger table if it does not exist.
func (s *SQLLedger) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, publishSchema)
	return err
}

func (s *SQLLedger) Append(ctx context.Context, r Record) (Record, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.PublishedAt.IsZero() {
		r.PublishedAt = time.Now().UTC()
	}

	sums, err := json.Marshal(r.Checksums)
	if err != nil {
		return Record{}, fmt.Errorf("marshal checksums: %w", err)
	}

	query := `
		INSERT INTO publish_records (id, package_name, version, platform, index_record_id, checksums, published_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = s.db.ExecContext(ctx, query,
		r.ID, r.PackageName, r.Version, r.Platform, r.IndexRecordID, string(sums), r.PublishedAt, string(r.Status),
	)
	if err != nil {
		return Record{}, fmt.Errorf("append publish record: %w", err)
	}
	return r, nil
}

func (s *SQLLedger) Records(ctx context.Context) ([]Record, error) {
	query := `
		SELECT id, package_name, version, platform, index_record_id, checksums, published_at, status
		FROM publish_records ORDER BY published_at, id
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list publish records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result := make([]Record, 0)
	for rows.Next() {
		var r Record
		var sums string
		var status string
		if err := rows.Scan(&r.ID, &r.PackageName, &r.Version, &r.Platform, &r.IndexRecordID, &sums, &r.PublishedAt, &status); err != nil {
			return nil, err
		}
		r.Status = RecordStatus(status)
		if sums != "" {
			if err := json.Unmarshal([]byte(sums), &r.Checksums); err != nil {
				return nil, fmt.Errorf("unmarshal checksums for %s: %w", r.ID, err)
			}
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
