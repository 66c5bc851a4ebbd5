package bloodpressure

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type readingRepoPG struct{ pool *pgxpool.Pool }

func NewReadingRepoPG(pool *pgxpool.Pool) ReadingRepository { return &readingRepoPG{pool: pool} }

func (r *readingRepoPG) conn() queryable { return r.pool }

const readingCols = `id, patient_id, systolic, diastolic, heart_rate, measured_at, source, note, created_at`

func (r *readingRepoPG) scanReading(row pgx.Row) (*Reading, error) {
	var rd Reading
	err := row.Scan(&rd.ID, &rd.PatientID, &rd.Systolic, &rd.Diastolic, &rd.HeartRate,
		&rd.MeasuredAt, &rd.Source, &rd.Note, &rd.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &rd, err
}

func (r *readingRepoPG) Create(ctx context.Context, rd *Reading) error {
	rd.ID = uuid.New()
	return r.conn().QueryRow(ctx, `
		INSERT INTO bp_reading (id, patient_id, systolic, diastolic, heart_rate, measured_at, source, note)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at`,
		rd.ID, rd.PatientID, rd.Systolic, rd.Diastolic, rd.HeartRate, rd.MeasuredAt, rd.Source, rd.Note,
	).Scan(&rd.CreatedAt)
}

func (r *readingRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Reading, error) {
	return r.scanReading(r.conn().QueryRow(ctx, `SELECT `+readingCols+` FROM bp_reading WHERE id = $1`, id))
}

func (r *readingRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn().Exec(ctx, `DELETE FROM bp_reading WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *readingRepoPG) List(ctx context.Context, limit, offset int) ([]*Reading, int, error) {
	var total int
	if err := r.conn().QueryRow(ctx, `SELECT COUNT(*) FROM bp_reading`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn().Query(ctx, `SELECT `+readingCols+` FROM bp_reading ORDER BY measured_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	items, err := r.collect(rows)
	return items, total, err
}

func (r *readingRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Reading, int, error) {
	var total int
	if err := r.conn().QueryRow(ctx, `SELECT COUNT(*) FROM bp_reading WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn().Query(ctx, `SELECT `+readingCols+` FROM bp_reading WHERE patient_id = $1 ORDER BY measured_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	items, err := r.collect(rows)
	return items, total, err
}

func (r *readingRepoPG) ListByPatientBetween(ctx context.Context, patientID uuid.UUID, from, to time.Time) ([]*Reading, error) {
	query := `SELECT ` + readingCols + ` FROM bp_reading WHERE patient_id = $1`
	args := []interface{}{patientID}
	idx := 2

	var where []string
	if !from.IsZero() {
		where = append(where, fmt.Sprintf("measured_at >= $%d", idx))
		args = append(args, from)
		idx++
	}
	if !to.IsZero() {
		where = append(where, fmt.Sprintf("measured_at <= $%d", idx))
		args = append(args, to)
	}
	if len(where) > 0 {
		query += " AND " + strings.Join(where, " AND ")
	}
	query += " ORDER BY measured_at ASC"

	rows, err := r.conn().Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.collect(rows)
}

func (r *readingRepoPG) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *readingRepoPG) collect(rows pgx.Rows) ([]*Reading, error) {
	var items []*Reading
	for rows.Next() {
		rd, err := r.scanReading(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, rd)
	}
	return items, rows.Err()
}
