package compliance

import (
	"context"
	"time"

	"github.com/goodtune/adherence/internal/storage"
)

const (
	// TargetMinutesPerDay is the uniform daily usage target (8 hours).
	TargetMinutesPerDay = 480

	// MaxUsageDurationMinutes bounds a single reported session (one week).
	MaxUsageDurationMinutes = 7 * 24 * 60

	// ComplianceWindowDays is the lookback of a compliance summary.
	ComplianceWindowDays = 30

	// TrendWindowDays is the length of each compared trend period.
	TrendWindowDays = 7

	// TrendDeadBandPercent is the change below which usage is reported stable.
	TrendDeadBandPercent = 10.0

	// DefaultMaxAnalyticsDays caps the analytics window when none is configured.
	DefaultMaxAnalyticsDays = 365
)

// EventUsageUpdate is published after every recorded session.
const EventUsageUpdate = "usage_update"

// Event is a message pushed to a patient's realtime channel.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Publisher delivers events to a patient's realtime subscribers. It must
// not block and never reports delivery failures.
type Publisher interface {
	Publish(patientID string, event Event)
}

// UsageReport is one incoming device usage reading.
type UsageReport struct {
	PatientID            string            `json:"patient_id"`
	DeviceID             string            `json:"device_id"`
	UsageDurationMinutes int               `json:"usage_duration"`
	TimeOfDay            storage.TimeOfDay `json:"time_of_day"`
	Timestamp            time.Time         `json:"timestamp"`
}

// Direction classifies a week-over-week usage change.
type Direction string

const (
	Increasing Direction = "increasing"
	Decreasing Direction = "decreasing"
	Stable     Direction = "stable"
)

// Trend is the week-over-week usage change.
type Trend struct {
	Direction  Direction `json:"direction"`
	Percentage float64   `json:"percentage"`
}

// Summary is a patient's compliance over the last ComplianceWindowDays.
type Summary struct {
	PatientID            string     `json:"patient_id"`
	PatientName          string     `json:"patient_name"`
	TotalSessions        int        `json:"total_sessions"`
	TotalDurationMinutes int        `json:"total_duration_minutes"`
	AverageDailyUsage    float64    `json:"average_daily_usage"`
	AverageDailyHours    float64    `json:"average_daily_hours"`
	CompliancePercentage float64    `json:"compliance_percentage"`
	LastSession          *time.Time `json:"last_session"`
	DeviceConnected      bool       `json:"device_connected"`
	UsageTrend           *Trend     `json:"usage_trend"`
}

// DailyUsagePoint is one day of an analytics series.
type DailyUsagePoint struct {
	Date         string  `json:"date"`
	UsageMinutes int     `json:"usage_minutes"`
	UsageHours   float64 `json:"usage_hours"`
}

// DayNight splits usage minutes by reported time of day.
type DayNight struct {
	Day   int `json:"day"`
	Night int `json:"night"`
}

// Analytics is the daily breakdown of a patient's usage.
type Analytics struct {
	TimeSeries           []DailyUsagePoint `json:"time_series"`
	DayNightDistribution DayNight          `json:"day_night_distribution"`
	TotalDays            int               `json:"total_days"`
	ActiveDays           int               `json:"active_days"`
	AverageDailyMinutes  float64           `json:"average_daily_minutes"`
	AverageDailyHours    float64           `json:"average_daily_hours"`
}

// RosterResult is one roster entry. Summary is always set; Err records why
// a zero-valued placeholder was used instead of a computed summary.
type RosterResult struct {
	Patient storage.Identity
	Summary Summary
	Err     error
}

// OK reports whether the summary was computed.
func (r RosterResult) OK() bool {
	return r.Err == nil
}

// sessionQuerier is the slice of storage.SessionStore the engine reads.
type sessionQuerier interface {
	QueryByPatient(ctx context.Context, patientID string, from, to time.Time, order storage.SortOrder) ([]storage.UsageSession, error)
}
