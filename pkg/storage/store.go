// pkg/storage/store.go
//
// SQLite-backed persistence for analysis records. Storage is a trailing
// concern: the agent's decision has already been made and dispatched by the
// time a record lands here, so callers treat write failures as degraded
// operation rather than pipeline errors.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/lucid-vigil/aegis/pkg/analysis"
	"github.com/lucid-vigil/aegis/pkg/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS analysis_records (
	id         TEXT PRIMARY KEY,
	event_id   TEXT NOT NULL,
	ts         INTEGER NOT NULL,
	provenance TEXT NOT NULL,
	action     TEXT NOT NULL,
	record     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_records_ts ON analysis_records(ts);
CREATE INDEX IF NOT EXISTS idx_records_event ON analysis_records(event_id);
`

// Store persists analysis records in SQLite.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Open opens (and if needed creates) the record store. An empty path opens
// an in-memory database, which is what the tests use.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening record store at %s: %w", path, err)
	}
	// The sqlite driver is single-writer; serialize access through one
	// connection instead of surfacing SQLITE_BUSY to callers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing record store schema: %w", err)
	}

	return &Store{
		db:     db,
		logger: logger.With().Str("component", "record_store").Logger(),
	}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveResult persists one analysis record. Failures come back as storage
// errors carrying the event ID so the caller can log and move on.
func (s *Store) SaveResult(ctx context.Context, result analysis.AnalysisResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return errors.NewStorageError("record_store", result.EventID, err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO analysis_records (id, event_id, ts, provenance, action, record) VALUES (?, ?, ?, ?, ?, ?)`,
		result.ID,
		result.EventID,
		result.Timestamp.UnixNano(),
		string(result.Provenance),
		result.RecommendedAction.String(),
		string(payload),
	)
	if err != nil {
		return errors.NewStorageError("record_store", result.EventID, err)
	}

	s.logger.Debug().
		Str("record_id", result.ID).
		Str("event_id", result.EventID).
		Str("action", result.RecommendedAction.String()).
		Msg("Analysis record persisted")
	return nil
}

// QueryRange returns records whose timestamps fall in [from, to), newest
// first, up to limit (0 means no limit).
func (s *Store) QueryRange(ctx context.Context, from, to time.Time, limit int) ([]analysis.AnalysisResult, error) {
	query := `SELECT record FROM analysis_records WHERE ts >= ? AND ts < ? ORDER BY ts DESC`
	args := []interface{}{from.UnixNano(), to.UnixNano()}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewStorageError("record_store", "", err)
	}
	defer rows.Close()

	var results []analysis.AnalysisResult
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, errors.NewStorageError("record_store", "", err)
		}
		var result analysis.AnalysisResult
		if err := json.Unmarshal([]byte(raw), &result); err != nil {
			return nil, errors.NewStorageError("record_store", "", err)
		}
		results = append(results, result)
	}
	return results, rows.Err()
}

// ByEvent returns the records persisted for one event ID.
func (s *Store) ByEvent(ctx context.Context, eventID string) ([]analysis.AnalysisResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT record FROM analysis_records WHERE event_id = ? ORDER BY ts ASC`, eventID)
	if err != nil {
		return nil, errors.NewStorageError("record_store", eventID, err)
	}
	defer rows.Close()

	var results []analysis.AnalysisResult
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, errors.NewStorageError("record_store", eventID, err)
		}
		var result analysis.AnalysisResult
		if err := json.Unmarshal([]byte(raw), &result); err != nil {
			return nil, errors.NewStorageError("record_store", eventID, err)
		}
		results = append(results, result)
	}
	return results, rows.Err()
}

// CountByAction aggregates stored records by recommended action, for the
// status endpoint.
func (s *Store) CountByAction(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT action, COUNT(*) FROM analysis_records GROUP BY action`)
	if err != nil {
		return nil, errors.NewStorageError("record_store", "", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var action string
		var n int
		if err := rows.Scan(&action, &n); err != nil {
			return nil, errors.NewStorageError("record_store", "", err)
		}
		counts[action] = n
	}
	return counts, rows.Err()
}
