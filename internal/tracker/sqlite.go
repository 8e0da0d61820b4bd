package tracker

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS execution_records (
	id             TEXT PRIMARY KEY,
	project_id     TEXT NOT NULL,
	correlation_id TEXT NOT NULL,
	agent_type     TEXT NOT NULL,
	input_data     TEXT,
	output_data    TEXT,
	status         TEXT NOT NULL,
	error_message  TEXT,
	started_at     INTEGER NOT NULL,
	completed_at   INTEGER,
	duration_ms    INTEGER
);
CREATE INDEX IF NOT EXISTS idx_records_correlation ON execution_records(correlation_id, started_at);
CREATE INDEX IF NOT EXISTS idx_records_project ON execution_records(project_id, started_at);
CREATE INDEX IF NOT EXISTS idx_records_status ON execution_records(status, started_at);
`

// SQLStore is the sqlite-backed DurableStore.
type SQLStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the sqlite database at path and
// applies the schema.
func OpenSQLite(path string) (*SQLStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLStore{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) Insert(ctx context.Context, rec Record) error {
	input, err := marshalJSON(rec.InputData)
	if err != nil {
		return fmt.Errorf("encode input data: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO execution_records(id,project_id,correlation_id,agent_type,input_data,status,error_message,started_at)
		 VALUES (?,?,?,?,?,?,?,?)`,
		rec.ID.String(), rec.ProjectID.String(), rec.CorrelationID.String(), rec.AgentType,
		input, string(rec.Status), nullable(rec.ErrorMessage), rec.StartedAt.UnixMilli())
	return err
}

func (s *SQLStore) Transition(ctx context.Context, id uuid.UUID, from, to Status) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE execution_records SET status=? WHERE id=? AND status=?`,
		string(to), id.String(), string(from))
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("%w: record %s is not %s", ErrInvalidTransition, id, from)
	}
	return nil
}

func (s *SQLStore) UpdateTerminal(ctx context.Context, id uuid.UUID, update TerminalUpdate) error {
	if !update.Status.Terminal() {
		return fmt.Errorf("%w: %s is not terminal", ErrInvalidTransition, update.Status)
	}
	output, err := marshalJSON(update.OutputData)
	if err != nil {
		return fmt.Errorf("encode output data: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE execution_records
		 SET status=?, output_data=?, error_message=?, completed_at=?, duration_ms=?
		 WHERE id=? AND status IN ('pending','running')`,
		string(update.Status), output, nullable(update.ErrorMessage),
		update.CompletedAt.UnixMilli(), update.DurationMS, id.String())
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		// Release the (empty) transaction before reading, or the Get below
		// blocks on the lock this transaction still holds.
		tx.Rollback()
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("%w: record %s is already terminal", ErrInvalidTransition, id)
	}
	return tx.Commit()
}

func (s *SQLStore) Get(ctx context.Context, id uuid.UUID) (Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id,project_id,correlation_id,agent_type,input_data,output_data,status,
		        COALESCE(error_message,''),started_at,completed_at,duration_ms
		 FROM execution_records WHERE id=?`, id.String())
	return scanRecord(row)
}

func (s *SQLStore) GetLatestByCorrelation(ctx context.Context, correlationID uuid.UUID) (Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id,project_id,correlation_id,agent_type,input_data,output_data,status,
		        COALESCE(error_message,''),started_at,completed_at,duration_ms
		 FROM execution_records WHERE correlation_id=?
		 ORDER BY started_at DESC, rowid DESC LIMIT 1`, correlationID.String())
	return scanRecord(row)
}

func (s *SQLStore) ListByProject(ctx context.Context, projectID uuid.UUID, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id,project_id,correlation_id,agent_type,input_data,output_data,status,
		        COALESCE(error_message,''),started_at,completed_at,duration_ms
		 FROM execution_records WHERE project_id=?
		 ORDER BY started_at DESC, rowid DESC LIMIT ?`, projectID.String(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecordRows(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *SQLStore) FailStaleRunning(ctx context.Context, cutoff time.Time, reason string) (int64, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE execution_records
		 SET status='failed', error_message=?, completed_at=?, duration_ms=? - started_at
		 WHERE status='running' AND started_at < ?`,
		reason, now.UnixMilli(), now.UnixMilli(), cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row *sql.Row) (Record, error) {
	rec, err := scanRecordRows(row)
	if err == sql.ErrNoRows {
		return Record{}, ErrNotFound
	}
	return rec, err
}

func scanRecordRows(row rowScanner) (Record, error) {
	var (
		rec                     Record
		idStr, projStr, corrStr string
		statusStr               string
		input, output           sql.NullString
		startedMS               int64
		completedMS, durationMS sql.NullInt64
	)
	err := row.Scan(&idStr, &projStr, &corrStr, &rec.AgentType, &input, &output,
		&statusStr, &rec.ErrorMessage, &startedMS, &completedMS, &durationMS)
	if err != nil {
		return Record{}, err
	}

	rec.ID, err = uuid.Parse(idStr)
	if err != nil {
		return Record{}, fmt.Errorf("parse record id: %w", err)
	}
	if rec.ProjectID, err = uuid.Parse(projStr); err != nil {
		return Record{}, fmt.Errorf("parse project id: %w", err)
	}
	if rec.CorrelationID, err = uuid.Parse(corrStr); err != nil {
		return Record{}, fmt.Errorf("parse correlation id: %w", err)
	}
	rec.Status = Status(statusStr)
	rec.StartedAt = time.UnixMilli(startedMS).UTC()

	if input.Valid && input.String != "" {
		if err := json.Unmarshal([]byte(input.String), &rec.InputData); err != nil {
			return Record{}, fmt.Errorf("decode input data: %w", err)
		}
	}
	if output.Valid && output.String != "" {
		if err := json.Unmarshal([]byte(output.String), &rec.OutputData); err != nil {
			return Record{}, fmt.Errorf("decode output data: %w", err)
		}
	}
	if completedMS.Valid {
		t := time.UnixMilli(completedMS.Int64).UTC()
		rec.CompletedAt = &t
	}
	if durationMS.Valid {
		d := durationMS.Int64
		rec.DurationMS = &d
	}
	return rec, nil
}

func marshalJSON(m map[string]any) (sql.NullString, error) {
	if m == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func nullable(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
