package bloodpressure

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

// sqliteSchema mirrors migrations/001_bp_reading.sql. Timestamps are stored
// as unix nanoseconds so range filters compare numerically.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS bp_reading (
    id TEXT PRIMARY KEY,
    patient_id TEXT NOT NULL,
    systolic INTEGER NOT NULL,
    diastolic INTEGER NOT NULL,
    heart_rate INTEGER,
    measured_at INTEGER NOT NULL,
    source TEXT,
    note TEXT,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_bp_reading_patient_measured
    ON bp_reading (patient_id, measured_at);
`

// SQLiteStore is a ReadingRepository backed by SQLite. It is used for local
// and development runs where no Postgres is available.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and migrates) the database at path. ":memory:" gives
// a private in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if path == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Create(ctx context.Context, r *Reading) error {
	r.ID = uuid.New()
	r.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bp_reading (id, patient_id, systolic, diastolic, heart_rate, measured_at, source, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID.String(), r.PatientID.String(), r.Systolic, r.Diastolic, nullInt(r.HeartRate),
		r.MeasuredAt.UnixNano(), nullString(r.Source), nullString(r.Note), r.CreatedAt.UnixNano())
	return err
}

func (s *SQLiteStore) GetByID(ctx context.Context, id uuid.UUID) (*Reading, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+readingCols+` FROM bp_reading WHERE id = ?`, id.String())
	return scanSQLiteReading(row)
}

func (s *SQLiteStore) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM bp_reading WHERE id = ?`, id.String())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, limit, offset int) ([]*Reading, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bp_reading`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+readingCols+` FROM bp_reading ORDER BY measured_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	items, err := collectSQLite(rows)
	return items, total, err
}

func (s *SQLiteStore) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Reading, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bp_reading WHERE patient_id = ?`, patientID.String()).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+readingCols+` FROM bp_reading WHERE patient_id = ? ORDER BY measured_at DESC LIMIT ? OFFSET ?`,
		patientID.String(), limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	items, err := collectSQLite(rows)
	return items, total, err
}

func (s *SQLiteStore) ListByPatientBetween(ctx context.Context, patientID uuid.UUID, from, to time.Time) ([]*Reading, error) {
	lo, hi := int64(math.MinInt64), int64(math.MaxInt64)
	if !from.IsZero() {
		lo = from.UnixNano()
	}
	if !to.IsZero() {
		hi = to.UnixNano()
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+readingCols+` FROM bp_reading
		 WHERE patient_id = ? AND measured_at >= ? AND measured_at <= ?
		 ORDER BY measured_at ASC`,
		patientID.String(), lo, hi)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSQLite(rows)
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSQLiteReading(row rowScanner) (*Reading, error) {
	var (
		rd                Reading
		id, patientID     string
		heartRate         sql.NullInt64
		measured, created int64
		source, note      sql.NullString
	)
	err := row.Scan(&id, &patientID, &rd.Systolic, &rd.Diastolic, &heartRate, &measured, &source, &note, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if rd.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse reading id: %w", err)
	}
	if rd.PatientID, err = uuid.Parse(patientID); err != nil {
		return nil, fmt.Errorf("parse patient id: %w", err)
	}
	if heartRate.Valid {
		hr := int(heartRate.Int64)
		rd.HeartRate = &hr
	}
	if source.Valid {
		rd.Source = &source.String
	}
	if note.Valid {
		rd.Note = &note.String
	}
	rd.MeasuredAt = time.Unix(0, measured).UTC()
	rd.CreatedAt = time.Unix(0, created).UTC()
	return &rd, nil
}

func collectSQLite(rows *sql.Rows) ([]*Reading, error) {
	var items []*Reading
	for rows.Next() {
		rd, err := scanSQLiteReading(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, rd)
	}
	return items, rows.Err()
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}
