package domain

import "strings"

// SearchFilter selects rides. Empty fields do not constrain the result.
type SearchFilter struct {
	Source      string
	Destination string
	Date        string
	StartTime   string // inclusive lower bound on Ride.StartTime
	EndTime     string // inclusive upper bound on Ride.EndTime
}

// IsEmpty reports whether no field constrains the search.
func (f SearchFilter) IsEmpty() bool {
	return f == SearchFilter{}
}

// FilterRides returns, in input order, the rides that still have a free seat and
// match every non-empty field of f. Times compare lexically on zero-padded HH:MM.
func FilterRides(rides []Ride, f SearchFilter) []Ride {
	src := strings.ToLower(f.Source)
	dst := strings.ToLower(f.Destination)

	out := make([]Ride, 0, len(rides))
	for _, r := range rides {
		if r.SeatsAvailable <= 0 {
			continue
		}
		if src != "" && !strings.Contains(strings.ToLower(r.Source), src) {
			continue
		}
		if dst != "" && !strings.Contains(strings.ToLower(r.Destination), dst) {
			continue
		}
		if f.Date != "" && r.Date != f.Date {
			continue
		}
		if f.StartTime != "" && r.StartTime < f.StartTime {
			continue
		}
		if f.EndTime != "" && r.EndTime > f.EndTime {
			continue
		}
		out = append(out, r.Clone())
	}
	return out
}
