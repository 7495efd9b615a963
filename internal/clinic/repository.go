package clinic

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrClinicNotFound          = errors.New("clinic not found")
	ErrDoctorNotFound          = errors.New("doctor not found")
	ErrPatientNotFound         = errors.New("patient not found")
	ErrAppointmentTypeNotFound = errors.New("appointment type not found")
)

// Repository contains all DB interactions needed for the clinic directory
// and availability configuration.
type Repository interface {
	GetClinicByID(ctx context.Context, id uuid.UUID) (*Clinic, error)
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetAppointmentTypeByID(ctx context.Context, id uuid.UUID) (*AppointmentType, error)

	ListWorkingPeriods(ctx context.Context, clinicID uuid.UUID, day Day) ([]WorkingPeriod, error)
	CreateWorkingPeriod(ctx context.Context, period WorkingPeriod) (*WorkingPeriod, error)
	CreateAppointmentType(ctx context.Context, t AppointmentType) (*AppointmentType, error)
}
