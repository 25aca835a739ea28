package storage

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// TimeOfDay is the caller-supplied period a usage session belongs to.
type TimeOfDay string

const (
	TimeOfDayDay   TimeOfDay = "day"
	TimeOfDayNight TimeOfDay = "night"
)

// Valid reports whether t is one of the known periods.
func (t TimeOfDay) Valid() bool {
	return t == TimeOfDayDay || t == TimeOfDayNight
}

// ParseTimeOfDay normalizes s to a TimeOfDay.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	normalized := TimeOfDay(strings.ToLower(strings.TrimSpace(s)))
	if !normalized.Valid() {
		return "", fmt.Errorf("invalid time_of_day: %q (must be day or night)", s)
	}
	return normalized, nil
}

// UnmarshalJSON implements json.Unmarshaler to normalize the period to lowercase.
func (t *TimeOfDay) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Role identifies whether an identity is a patient or a doctor.
type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RolePatient || r == RoleDoctor
}

// SortOrder selects the created_at ordering of session queries.
type SortOrder int

const (
	Ascending SortOrder = iota
	Descending
)

// UsageSession is one contiguous interval a device was in use.
// Sessions are immutable once appended.
type UsageSession struct {
	ID              string    `json:"id"`
	PatientID       string    `json:"patient_id"`
	DeviceID        string    `json:"device_id"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	DurationMinutes int       `json:"duration_minutes"`
	TimeOfDay       TimeOfDay `json:"time_of_day"`
	ComplianceScore float64   `json:"compliance_score"`
	CreatedAt       time.Time `json:"created_at"`
}

// Device is a wearable registered to a patient.
type Device struct {
	ID            string     `json:"id"`
	PatientID     string     `json:"patient_id"`
	DeviceID      string     `json:"device_id"`
	DeviceName    string     `json:"device_name"`
	IsConnected   bool       `json:"is_connected"`
	LastConnected *time.Time `json:"last_connected"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Identity is a resolved patient or doctor.
type Identity struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Role           Role      `json:"user_type"`
	RoleIdentifier string    `json:"role_identifier"`
	CreatedAt      time.Time `json:"created_at"`
}
