package dailycode

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DateLayout is the wire and storage format of a civil date.
const DateLayout = "2006-01-02"

// Assignment maps to the daily_code_assignments table. CivilDate is unique;
// a regenerate replaces the row for its date.
type Assignment struct {
	ID            uuid.UUID `db:"id" json:"id"`
	CivilDate     time.Time `db:"civil_date" json:"-"`
	Code          Code      `db:"code" json:"code"`
	SequenceIndex int64     `db:"sequence_index" json:"sequence_index"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// Date returns the civil date formatted as YYYY-MM-DD.
func (a *Assignment) Date() string { return a.CivilDate.Format(DateLayout) }

// ToMap renders the assignment for API responses.
func (a *Assignment) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"id":             a.ID.String(),
		"civil_date":     a.Date(),
		"code":           a.Code,
		"sequence_index": a.SequenceIndex,
		"created_at":     a.CreatedAt,
		"updated_at":     a.UpdatedAt,
	}
}

// ResetPolicy is the local time of day at which a new code becomes due.
type ResetPolicy struct {
	Hour   int `json:"hour" validate:"min=0,max=23"`
	Minute int `json:"minute" validate:"min=0,max=59"`
}

func (p ResetPolicy) Validate() error {
	if p.Hour < 0 || p.Hour > 23 {
		return fmt.Errorf("%w: hour %d out of range 0..23", ErrInvalidPolicy, p.Hour)
	}
	if p.Minute < 0 || p.Minute > 59 {
		return fmt.Errorf("%w: minute %d out of range 0..59", ErrInvalidPolicy, p.Minute)
	}
	return nil
}

func (p ResetPolicy) String() string {
	return fmt.Sprintf("%02d:%02d", p.Hour, p.Minute)
}

// ParseResetPolicy parses "HH:MM".
func ParseResetPolicy(s string) (ResetPolicy, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return ResetPolicy{}, fmt.Errorf("%w: %q is not HH:MM", ErrInvalidPolicy, s)
	}
	return ResetPolicy{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// Status is what the display widget renders.
type Status struct {
	Code              Code      `json:"code"`
	CivilDate         string    `json:"civil_date"`
	SequenceIndex     int64     `json:"sequence_index"`
	CodesUsed         int64     `json:"codes_used"`
	ResetPolicy       string    `json:"reset_policy"`
	NextReset         time.Time `json:"next_reset"`
	SecondsUntilReset int64     `json:"seconds_until_reset"`
}
