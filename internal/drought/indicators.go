package drought

import (
	"fmt"
	"strings"
	"time"
)

// Horizon names one row of the indicator table.
type Horizon string

// Indicator horizons.
const (
	HorizonCurrent       Horizon = "current"
	HorizonPreviousMonth Horizon = "previous_month"
	HorizonPreviousYear  Horizon = "previous_year"
)

// LevelCount is the number of network departments at one level, with their
// names when known.
type LevelCount struct {
	Count int    `json:"count"`
	Names string `json:"names,omitempty"`
}

// Row holds the indicators for one horizon.
type Row struct {
	Horizon Horizon              `json:"horizon"`
	Date    time.Time            `json:"date"`
	DeptFR  int                  `json:"dept_fr"`
	Network map[Level]LevelCount `json:"network"`
}

// Indicators is the full table: today, first day of the previous month and
// first day of the same month one year earlier.
type Indicators struct {
	ComputedAt    time.Time `json:"computed_at"`
	Current       Row       `json:"current"`
	PreviousMonth Row       `json:"previous_month"`
	PreviousYear  Row       `json:"previous_year"`
}

// Rows returns the three rows in display order.
func (i Indicators) Rows() []Row {
	return []Row{i.Current, i.PreviousYear, i.PreviousMonth}
}

// DeltaFR is the month-over-month change of the national count.
func (i Indicators) DeltaFR() Delta {
	return Delta(i.Current.DeptFR - i.PreviousMonth.DeptFR)
}

// DeltaNetwork is the month-over-month change of the network count at level.
func (i Indicators) DeltaNetwork(level Level) Delta {
	return Delta(i.Current.Network[level].Count - i.PreviousMonth.Network[level].Count)
}

// Delta is a signed difference between two counts.
type Delta int

// Unchanged reports a zero difference.
func (d Delta) Unchanged() bool { return d == 0 }

// String renders the delta as "+ n" or "- n", or "identique" when unchanged.
func (d Delta) String() string {
	switch {
	case d > 0:
		return fmt.Sprintf("+ %d", int(d))
	case d < 0:
		return fmt.Sprintf("- %d", -int(d))
	default:
		return "identique"
	}
}

// PreviousMonthStart returns the first day of the month before now.
func PreviousMonthStart(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month()-1, 1, 0, 0, 0, 0, time.UTC)
}

// PreviousYearStart returns the first day of now's month, one year earlier.
func PreviousYearStart(now time.Time) time.Time {
	return time.Date(now.Year()-1, now.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// Today truncates now to a UTC calendar date.
func Today(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

// RestrictedDepartments counts the distinct departments having at least one
// zone above vigilance.
func RestrictedDepartments(zones []Zone) int {
	seen := map[string]struct{}{}
	for _, z := range zones {
		if z.Level == LevelVigilance {
			continue
		}
		seen[z.DeptCode] = struct{}{}
	}
	return len(seen)
}

// NetworkDepartmentsAt returns the network departments having a zone at
// level, in the order of depts.
func NetworkDepartmentsAt(zones []Zone, depts []Department, level Level) LevelCount {
	codes := map[string]struct{}{}
	for _, z := range zones {
		if z.Level == level {
			codes[z.DeptCode] = struct{}{}
		}
	}
	if len(codes) == 0 {
		return LevelCount{}
	}
	var names []string
	for _, d := range depts {
		if _, ok := codes[d.Code]; ok {
			names = append(names, d.Name)
		}
	}
	return LevelCount{Count: len(names), Names: strings.Join(names, ", ")}
}

// BuildIndicators computes the indicator table. The current row comes from
// the live zones; the two past rows come from the archive.
func BuildIndicators(orders []Order, zones []Zone, depts []Department, now time.Time) Indicators {
	today := Today(now)
	current := Row{
		Horizon: HorizonCurrent,
		Date:    today,
		DeptFR:  RestrictedDepartments(zones),
		Network: make(map[Level]LevelCount, len(Levels)),
	}
	for _, l := range Levels {
		current.Network[l] = NetworkDepartmentsAt(zones, depts, l)
	}

	yearDate := PreviousYearStart(now)
	previousYear := Row{
		Horizon: HorizonPreviousYear,
		Date:    yearDate,
		DeptFR:  CountDepartmentsAt(orders, yearDate, RestrictiveLevels, nil),
		Network: emptyNetwork(),
	}

	network := DepartmentCodes(depts)
	monthDate := PreviousMonthStart(now)
	previousMonth := Row{
		Horizon: HorizonPreviousMonth,
		Date:    monthDate,
		DeptFR:  CountDepartmentsAt(orders, monthDate, RestrictiveLevels, nil),
		Network: make(map[Level]LevelCount, len(Levels)),
	}
	for _, l := range Levels {
		previousMonth.Network[l] = LevelCount{
			Count: CountDepartmentsAt(orders, monthDate, []Level{l}, network),
		}
	}

	return Indicators{
		ComputedAt:    now,
		Current:       current,
		PreviousMonth: previousMonth,
		PreviousYear:  previousYear,
	}
}

// DepartmentCodes returns the set of codes of depts.
func DepartmentCodes(depts []Department) map[string]struct{} {
	set := make(map[string]struct{}, len(depts))
	for _, d := range depts {
		set[d.Code] = struct{}{}
	}
	return set
}

func emptyNetwork() map[Level]LevelCount {
	m := make(map[Level]LevelCount, len(Levels))
	for _, l := range Levels {
		m[l] = LevelCount{}
	}
	return m
}
