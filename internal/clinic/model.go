package clinic

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidPeriod    = errors.New("working period start must be before end")
	ErrPeriodOverlap    = errors.New("working periods for the same day must not overlap")
	ErrInvalidTimeOfDay = errors.New("time of day must be HH:MM between 00:00 and 23:59")
	ErrInvalidDuration  = errors.New("appointment type duration must be positive")
	ErrNegativeFee      = errors.New("appointment type fee must not be negative")
)

// Day is a weekday in the clinic's fixed weekly availability pattern.
type Day int

const (
	Sunday Day = iota
	Monday
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
)

func (d Day) String() string {
	return time.Weekday(d).String()
}

// DayOf returns the Day a date falls on.
func DayOf(t time.Time) Day {
	return Day(t.Weekday())
}

// TimeOfDay is a wall-clock time with no date, stored as minutes since
// midnight on the single canonical clock.
type TimeOfDay int

// ParseTimeOfDay parses "HH:MM".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, ErrInvalidTimeOfDay
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, ErrInvalidTimeOfDay
	}
	return TimeOfDay(h*60 + m), nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

// OnDate anchors the time of day onto a concrete date.
func (t TimeOfDay) OnDate(date time.Time) time.Time {
	midnight := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	return midnight.Add(time.Duration(t) * time.Minute)
}

type Clinic struct {
	ID        uuid.UUID
	Name      string
	Address   *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Doctor struct {
	ID        uuid.UUID
	Name      string
	Specialty *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// WorkingPeriod is one contiguous stretch of a clinic's day during which
// slots may be offered.
type WorkingPeriod struct {
	ID        uuid.UUID
	ClinicID  uuid.UUID
	Day       Day
	Start     TimeOfDay
	End       TimeOfDay
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks the start < end invariant.
func (p WorkingPeriod) Validate() error {
	if p.Start >= p.End {
		return ErrInvalidPeriod
	}
	return nil
}

// Overlaps reports whether two periods on the same day share any time.
// Touching endpoints do not count.
func (p WorkingPeriod) Overlaps(other WorkingPeriod) bool {
	if p.Day != other.Day {
		return false
	}
	return p.Start < other.End && p.End > other.Start
}

// ValidatePeriodSet rejects a candidate period that is inverted or that
// overlaps any existing period for the same clinic day. Overlapping
// periods are a configuration error, caught here so slot generation can
// assume disjoint input.
func ValidatePeriodSet(candidate WorkingPeriod, existing []WorkingPeriod) error {
	if err := candidate.Validate(); err != nil {
		return err
	}
	for _, p := range existing {
		if candidate.Overlaps(p) {
			return fmt.Errorf("%w: %s conflicts with %s-%s", ErrPeriodOverlap, candidate.Day, p.Start, p.End)
		}
	}
	return nil
}

// AppointmentType defines the length and price of a bookable visit for a
// given doctor. Slot length is always exactly one type's duration.
type AppointmentType struct {
	ID        uuid.UUID
	DoctorID  uuid.UUID
	Name      string
	Duration  time.Duration
	FeeCents  int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (t AppointmentType) Validate() error {
	if t.Duration <= 0 {
		return ErrInvalidDuration
	}
	if t.FeeCents < 0 {
		return ErrNegativeFee
	}
	return nil
}
