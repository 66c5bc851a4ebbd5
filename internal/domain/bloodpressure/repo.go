package bloodpressure

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by repositories when a reading does not exist.
var ErrNotFound = errors.New("reading not found")

type ReadingRepository interface {
	Create(ctx context.Context, r *Reading) error
	GetByID(ctx context.Context, id uuid.UUID) (*Reading, error)
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]*Reading, int, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Reading, int, error)
	// ListByPatientBetween returns every reading with from <= measured_at <= to,
	// oldest first. A zero bound is open.
	ListByPatientBetween(ctx context.Context, patientID uuid.UUID, from, to time.Time) ([]*Reading, error)
	Ping(ctx context.Context) error
}
