package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrKindNotConfigured is returned when a profile has no calendar rule for the requested kind.
var ErrKindNotConfigured = errors.New("event kind not configured")

// maxCatchUpCount caps occurrence counting after very long downtime.
const maxCatchUpCount = 1000

// monthDayAt returns local midnight of the given day, clamped to the last day of the month.
func monthDayAt(year int, month time.Month, day int, loc *time.Location) time.Time {
	last := time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
	if day > last {
		day = last
	}
	return time.Date(year, month, day, 0, 0, 0, 0, loc)
}

// rule is the resolved calendar rule of one event kind.
type rule struct {
	kind EventKind
	loc  *time.Location
	day  int // pay-day kinds
	mins int // digest
}

func ruleFor(u *UserSchedule, kind EventKind) (rule, error) {
	loc, err := u.Location()
	if err != nil {
		return rule{}, err
	}
	r := rule{kind: kind, loc: loc}
	switch kind {
	case EventAdvance, EventSalary:
		day := u.AdvanceDay
		if kind == EventSalary {
			day = u.SalaryDay
		}
		if day == nil {
			return rule{}, fmt.Errorf("%w: %s", ErrKindNotConfigured, kind)
		}
		if *day < 1 || *day > 31 {
			return rule{}, fmt.Errorf("%w: %s day %d", ErrInvalidSchedule, kind, *day)
		}
		r.day = *day
	case EventDigest:
		if u.DigestAtM < 0 || u.DigestAtM > 1439 {
			return rule{}, fmt.Errorf("%w: digest time %d", ErrInvalidSchedule, u.DigestAtM)
		}
		r.mins = u.DigestAtM
	default:
		return rule{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidSchedule, kind)
	}
	return r, nil
}

// after returns the first occurrence strictly after t.
func (r rule) after(t time.Time) time.Time {
	lt := t.In(r.loc)
	if r.kind == EventDigest {
		h, m := r.mins/60, r.mins%60
		c := time.Date(lt.Year(), lt.Month(), lt.Day(), h, m, 0, 0, r.loc)
		for !c.After(t) {
			c = time.Date(c.Year(), c.Month(), c.Day()+1, h, m, 0, 0, r.loc)
		}
		return c.UTC()
	}
	c := monthDayAt(lt.Year(), lt.Month(), r.day, r.loc)
	for !c.After(t) {
		first := time.Date(c.Year(), c.Month()+1, 1, 0, 0, 0, 0, r.loc)
		c = monthDayAt(first.Year(), first.Month(), r.day, r.loc)
	}
	return c.UTC()
}

// atOrBefore returns the latest occurrence not after t.
func (r rule) atOrBefore(t time.Time) time.Time {
	lt := t.In(r.loc)
	if r.kind == EventDigest {
		h, m := r.mins/60, r.mins%60
		c := time.Date(lt.Year(), lt.Month(), lt.Day(), h, m, 0, 0, r.loc)
		for c.After(t) {
			c = time.Date(c.Year(), c.Month(), c.Day()-1, h, m, 0, 0, r.loc)
		}
		return c.UTC()
	}
	c := monthDayAt(lt.Year(), lt.Month(), r.day, r.loc)
	for c.After(t) {
		first := time.Date(c.Year(), c.Month()-1, 1, 0, 0, 0, 0, r.loc)
		c = monthDayAt(first.Year(), first.Month(), r.day, r.loc)
	}
	return c.UTC()
}

// NextDue computes the next trigger instant (UTC) for kind.
//
// Pay-day reminders are day-granular: they are anchored at local midnight of the
// configured day (clamped to the month's last day), and the occurrence on the
// current local date stays pending until it has fired. The digest fires at the
// configured local time strictly after nowUTC. In both cases the result is
// strictly after lastFired when it is set.
func NextDue(nowUTC time.Time, u *UserSchedule, kind EventKind, lastFired *time.Time) (time.Time, error) {
	r, err := ruleFor(u, kind)
	if err != nil {
		return time.Time{}, err
	}
	ref := nowUTC
	if kind.IsReminder() {
		ln := nowUTC.In(r.loc)
		startOfToday := time.Date(ln.Year(), ln.Month(), ln.Day(), 0, 0, 0, 0, r.loc)
		ref = startOfToday.Add(-time.Nanosecond)
	}
	if lastFired != nil && !lastFired.Before(ref) {
		ref = *lastFired
	}
	return r.after(ref), nil
}

// LatestDue returns the most recent occurrence of kind at or before nowUTC.
func LatestDue(nowUTC time.Time, u *UserSchedule, kind EventKind) (time.Time, error) {
	r, err := ruleFor(u, kind)
	if err != nil {
		return time.Time{}, err
	}
	return r.atOrBefore(nowUTC), nil
}

// CountDue counts occurrences in [fromUTC, toUTC], where fromUTC is itself a due instant.
func CountDue(fromUTC, toUTC time.Time, u *UserSchedule, kind EventKind) (int, error) {
	r, err := ruleFor(u, kind)
	if err != nil {
		return 0, err
	}
	n := 0
	for t := fromUTC; !t.After(toUTC) && n < maxCatchUpCount; t = r.after(t) {
		n++
	}
	return n, nil
}
