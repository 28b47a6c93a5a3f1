package domain

import (
	"errors"
	"fmt"
	"time"
	_ "time/tzdata" // user timezones must resolve on hosts without zoneinfo

	"github.com/shopspring/decimal"
)

// Risk is the user's investment risk profile.
type Risk string

const (
	RiskConservative Risk = "conservative"
	RiskBalanced     Risk = "balanced"
	RiskAggressive   Risk = "aggressive"
)

// Risks lists the supported profiles in display order.
func Risks() []Risk {
	return []Risk{RiskConservative, RiskBalanced, RiskAggressive}
}

// ErrInvalidSchedule reports a profile whose calendar settings cannot produce trigger instants.
var ErrInvalidSchedule = errors.New("invalid schedule")

// UserSchedule is the finalized user profile the scheduler reads. It is never mutated by the scheduler.
type UserSchedule struct {
	UserID          int64
	TZ              string
	AdvanceDay      *int // 1..31, nullable
	SalaryDay       *int // 1..31, nullable
	DigestAtM       int  // minutes from local midnight (0..1439)
	DigestEnabled   bool
	MinContribution decimal.Decimal
	MaxContribution decimal.Decimal
	Risk            Risk
	CreatedAt       time.Time // UTC
}

// Location resolves the profile timezone.
func (u *UserSchedule) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(u.TZ)
	if err != nil {
		return nil, fmt.Errorf("%w: timezone %q: %v", ErrInvalidSchedule, u.TZ, err)
	}
	return loc, nil
}

// Kinds returns the event kinds this profile has configured.
func (u *UserSchedule) Kinds() []EventKind {
	var kinds []EventKind
	if u.AdvanceDay != nil {
		kinds = append(kinds, EventAdvance)
	}
	if u.SalaryDay != nil {
		kinds = append(kinds, EventSalary)
	}
	kinds = append(kinds, EventDigest)
	return kinds
}

// Validate checks the calendar and contribution settings.
func (u *UserSchedule) Validate() error {
	if _, err := u.Location(); err != nil {
		return err
	}
	if u.AdvanceDay != nil && (*u.AdvanceDay < 1 || *u.AdvanceDay > 31) {
		return fmt.Errorf("%w: advance day %d out of range 1..31", ErrInvalidSchedule, *u.AdvanceDay)
	}
	if u.SalaryDay != nil && (*u.SalaryDay < 1 || *u.SalaryDay > 31) {
		return fmt.Errorf("%w: salary day %d out of range 1..31", ErrInvalidSchedule, *u.SalaryDay)
	}
	if u.AdvanceDay != nil && u.SalaryDay != nil && *u.AdvanceDay == *u.SalaryDay {
		return fmt.Errorf("%w: advance and salary fall on the same day %d", ErrInvalidSchedule, *u.SalaryDay)
	}
	if u.DigestAtM < 0 || u.DigestAtM > 1439 {
		return fmt.Errorf("%w: digest time %d out of range", ErrInvalidSchedule, u.DigestAtM)
	}
	if u.MinContribution.IsNegative() {
		return fmt.Errorf("%w: negative minimum contribution", ErrInvalidSchedule)
	}
	if u.MaxContribution.LessThan(u.MinContribution) {
		return fmt.Errorf("%w: maximum contribution below minimum", ErrInvalidSchedule)
	}
	switch u.Risk {
	case RiskConservative, RiskBalanced, RiskAggressive:
	default:
		return fmt.Errorf("%w: unknown risk profile %q", ErrInvalidSchedule, u.Risk)
	}
	return nil
}

// IntPtr is a small helper for nullable day fields.
func IntPtr(v int) *int { return &v }
