package compliance

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/goodtune/adherence/internal/metrics"
	"github.com/goodtune/adherence/internal/storage"
	"github.com/rs/zerolog"
)

// Recorder turns usage reports into stored sessions.
type Recorder struct {
	sessions  storage.SessionStore
	devices   storage.DeviceStore
	publisher Publisher
	clock     Clock
	logger    zerolog.Logger
}

// NewRecorder creates a session recorder. A nil publisher disables
// realtime notifications; a nil clock uses RealClock.
func NewRecorder(sessions storage.SessionStore, devices storage.DeviceStore, publisher Publisher, clock Clock, logger zerolog.Logger) *Recorder {
	if clock == nil {
		clock = RealClock{}
	}
	return &Recorder{
		sessions:  sessions,
		devices:   devices,
		publisher: publisher,
		clock:     clock,
		logger:    logger.With().Str("component", "recorder").Logger(),
	}
}

// RecordUsage validates report, appends the session, marks the device
// connected and notifies the patient's realtime channel.
func (r *Recorder) RecordUsage(ctx context.Context, report UsageReport) (*storage.UsageSession, error) {
	session, err := r.buildSession(report)
	if err != nil {
		metrics.RecordFailures.WithLabelValues("invalid_input").Inc()
		return nil, err
	}

	if err := r.sessions.Append(ctx, *session); err != nil {
		metrics.RecordFailures.WithLabelValues("storage").Inc()
		return nil, storageUnavailable("append session", err)
	}

	if err := r.devices.SetConnected(ctx, session.DeviceID, session.PatientID, session.CreatedAt); err != nil {
		metrics.RecordFailures.WithLabelValues("storage").Inc()
		return nil, storageUnavailable("mark device connected", err)
	}

	if r.publisher != nil {
		r.publisher.Publish(session.PatientID, Event{Type: EventUsageUpdate, Data: *session})
	}

	metrics.SessionsRecorded.WithLabelValues(string(session.TimeOfDay)).Inc()
	metrics.UsageMinutesRecorded.WithLabelValues(string(session.TimeOfDay)).Add(float64(session.DurationMinutes))

	r.logger.Debug().
		Str("session_id", session.ID).
		Str("patient_id", session.PatientID).
		Str("device_id", session.DeviceID).
		Int("duration_minutes", session.DurationMinutes).
		Str("time_of_day", string(session.TimeOfDay)).
		Msg("Recorded usage session")

	return session, nil
}

func (r *Recorder) buildSession(report UsageReport) (*storage.UsageSession, error) {
	patientID := strings.TrimSpace(report.PatientID)
	if patientID == "" {
		return nil, invalidInput("patient_id is required")
	}
	deviceID := strings.TrimSpace(report.DeviceID)
	if deviceID == "" {
		return nil, invalidInput("device_id is required")
	}
	if report.UsageDurationMinutes < 0 {
		return nil, invalidInput("usage_duration must not be negative, got %d", report.UsageDurationMinutes)
	}
	if report.UsageDurationMinutes > MaxUsageDurationMinutes {
		return nil, invalidInput("usage_duration must not exceed %d minutes, got %d", MaxUsageDurationMinutes, report.UsageDurationMinutes)
	}
	timeOfDay, err := storage.ParseTimeOfDay(string(report.TimeOfDay))
	if err != nil {
		return nil, invalidInput("%v", err)
	}

	now := r.clock.Now()
	timestamp := report.Timestamp
	if timestamp.IsZero() {
		timestamp = now
	}
	duration := time.Duration(report.UsageDurationMinutes) * time.Minute

	return &storage.UsageSession{
		ID:              storage.NewID(),
		PatientID:       patientID,
		DeviceID:        deviceID,
		StartTime:       timestamp.Add(-duration),
		EndTime:         timestamp,
		DurationMinutes: report.UsageDurationMinutes,
		TimeOfDay:       timeOfDay,
		ComplianceScore: SessionScore(report.UsageDurationMinutes),
		CreatedAt:       now,
	}, nil
}

// SessionScore is the share of the daily target covered by one session,
// capped at 100.
func SessionScore(durationMinutes int) float64 {
	return math.Min(100, float64(durationMinutes)/TargetMinutesPerDay*100)
}
