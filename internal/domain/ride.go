package domain

import (
	"strings"
	"time"
)

const (
	// DateLayout is the calendar-date format used for rides and date filters.
	DateLayout = "2006-01-02"
	// TimeLayout is the zero-padded 24h clock format; lexical order equals time order.
	TimeLayout = "15:04"
)

// PresetLocations are the pickup/drop-off points offered by the ride forms.
var PresetLocations = []string{
	"VIT Vellore Campus",
	"Katpadi Railway Station",
	"Chennai Airport",
	"Bangalore Airport",
}

// Ride is a single offered carpool trip with a fixed seat capacity.
type Ride struct {
	ID          RideID
	Source      string
	Destination string
	Date        string // YYYY-MM-DD
	StartTime   string // HH:MM
	EndTime     string // HH:MM

	SeatsAvailable int

	CreatorID            UserID
	CreatorName          string
	CreatorEmail         string
	CreatorContactHandle *string

	CreatedAt time.Time
}

// Clone returns a copy that shares no pointers with r.
func (r Ride) Clone() Ride {
	out := r
	out.CreatorContactHandle = cloneStringPtr(r.CreatorContactHandle)
	return out
}

// RideDraft carries the user-supplied fields of a new ride. Creator fields are
// stamped from the session identity, never taken from input.
type RideDraft struct {
	Source         string
	Destination    string
	Date           string
	StartTime      string
	EndTime        string
	SeatsAvailable int
}

// FieldErrors maps input field names to a human-readable problem.
type FieldErrors map[string]string

// Normalize trims location labels and returns the cleaned draft together with
// any field problems. An empty FieldErrors means the draft is valid.
func (d RideDraft) Normalize() (RideDraft, FieldErrors) {
	out := d
	out.Source = NormalizeHumanName(d.Source)
	out.Destination = NormalizeHumanName(d.Destination)
	out.Date = strings.TrimSpace(d.Date)
	out.StartTime = strings.TrimSpace(d.StartTime)
	out.EndTime = strings.TrimSpace(d.EndTime)

	fe := FieldErrors{}
	if out.Source == "" {
		fe["source"] = "must be non-empty"
	}
	if out.Destination == "" {
		fe["destination"] = "must be non-empty"
	}
	if out.Source != "" && strings.EqualFold(out.Source, out.Destination) {
		fe["destination"] = "must differ from source"
	}
	if _, err := time.Parse(DateLayout, out.Date); err != nil {
		fe["date"] = "must be YYYY-MM-DD"
	}
	startOK := IsClockTime(out.StartTime)
	endOK := IsClockTime(out.EndTime)
	if !startOK {
		fe["startTime"] = "must be HH:MM"
	}
	if !endOK {
		fe["endTime"] = "must be HH:MM"
	}
	if startOK && endOK && out.EndTime <= out.StartTime {
		fe["endTime"] = "must be after startTime"
	}
	if out.SeatsAvailable < 1 {
		fe["seatsAvailable"] = "must be >= 1"
	}
	return out, fe
}

// IsClockTime reports whether s is a zero-padded HH:MM time of day.
func IsClockTime(s string) bool {
	if len(s) != len(TimeLayout) {
		return false
	}
	_, err := time.Parse(TimeLayout, s)
	return err == nil
}
