package compliance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goodtune/adherence/internal/metrics"
	"github.com/goodtune/adherence/internal/storage"
	"github.com/rs/zerolog"
)

const day = 24 * time.Hour

// Aggregator computes compliance views from the stored session log. It
// keeps no state between calls; every result is recomputed from storage.
type Aggregator struct {
	sessions         sessionQuerier
	devices          storage.DeviceStore
	identities       storage.IdentityStore
	clock            Clock
	maxAnalyticsDays int
	logger           zerolog.Logger
}

// Config holds aggregator configuration
type Config struct {
	MaxAnalyticsDays int
}

// NewAggregator creates a compliance aggregator.
func NewAggregator(sessions storage.SessionStore, devices storage.DeviceStore, identities storage.IdentityStore, clock Clock, config Config, logger zerolog.Logger) *Aggregator {
	if clock == nil {
		clock = RealClock{}
	}
	if config.MaxAnalyticsDays <= 0 {
		config.MaxAnalyticsDays = DefaultMaxAnalyticsDays
	}
	return &Aggregator{
		sessions:         sessions,
		devices:          devices,
		identities:       identities,
		clock:            clock,
		maxAnalyticsDays: config.MaxAnalyticsDays,
		logger:           logger.With().Str("component", "aggregator").Logger(),
	}
}

// Compliance summarizes the patient's last ComplianceWindowDays of usage,
// including the week-over-week trend.
func (a *Aggregator) Compliance(ctx context.Context, patientID string) (summary *Summary, err error) {
	defer a.observe("compliance", time.Now(), &err)

	patient, err := a.lookupPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}

	now := a.clock.Now()
	sessions, err := a.sessions.QueryByPatient(ctx, patient.ID, now.Add(-ComplianceWindowDays*day), now, storage.Ascending)
	if err != nil {
		return nil, storageUnavailable("query sessions", err)
	}

	connected, err := a.devices.IsConnected(ctx, patient.ID)
	if err != nil {
		return nil, storageUnavailable("query device status", err)
	}

	result := summarize(sessions, now)
	result.PatientID = patient.ID
	result.PatientName = patient.Name
	result.DeviceConnected = connected
	return &result, nil
}

// Analytics builds the dense daily series for the last days calendar days,
// today included.
func (a *Aggregator) Analytics(ctx context.Context, patientID string, days int) (analytics *Analytics, err error) {
	defer a.observe("analytics", time.Now(), &err)

	if err := a.checkWindow(days); err != nil {
		return nil, err
	}

	now := a.clock.Now().UTC()
	start := startOfDay(now).AddDate(0, 0, -(days - 1))

	sessions, err := a.sessions.QueryByPatient(ctx, patientID, start, now, storage.Ascending)
	if err != nil {
		return nil, storageUnavailable("query sessions", err)
	}

	result := buildAnalytics(sessions, start, days)
	return &result, nil
}

// RecentSessions lists the patient's sessions from the last days, newest first.
func (a *Aggregator) RecentSessions(ctx context.Context, patientID string, days int) (sessions []storage.UsageSession, err error) {
	defer a.observe("recent_sessions", time.Now(), &err)

	if err := a.checkWindow(days); err != nil {
		return nil, err
	}

	now := a.clock.Now()
	sessions, err = a.sessions.QueryByPatient(ctx, patientID, now.Add(-time.Duration(days)*day), now, storage.Descending)
	if err != nil {
		return nil, storageUnavailable("query sessions", err)
	}
	return sessions, nil
}

// Roster computes a summary for every patient identity, in input order.
// Identities that are not patients are skipped. A failing patient gets a
// zero-valued placeholder and the failure is kept in the result's Err.
func (a *Aggregator) Roster(ctx context.Context, patients []storage.Identity) []RosterResult {
	results := make([]RosterResult, 0, len(patients))
	for _, patient := range patients {
		if patient.Role != storage.RolePatient {
			continue
		}

		summary, err := a.Compliance(ctx, patient.ID)
		if err != nil {
			metrics.RosterPlaceholders.Inc()
			a.logger.Warn().
				Err(err).
				Str("patient_id", patient.ID).
				Msg("Using placeholder roster entry")
			results = append(results, RosterResult{
				Patient: patient,
				Summary: placeholder(patient),
				Err:     err,
			})
			continue
		}

		results = append(results, RosterResult{Patient: patient, Summary: *summary})
	}
	return results
}

// PatientRoster runs Roster over every known patient.
func (a *Aggregator) PatientRoster(ctx context.Context) ([]RosterResult, error) {
	patients, err := a.identities.ListByRole(ctx, storage.RolePatient)
	if err != nil {
		return nil, storageUnavailable("list patients", err)
	}
	return a.Roster(ctx, patients), nil
}

func (a *Aggregator) lookupPatient(ctx context.Context, patientID string) (*storage.Identity, error) {
	if patientID == "" {
		return nil, invalidInput("patient id is required")
	}
	identity, err := a.identities.Get(ctx, patientID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: patient %s", ErrNotFound, patientID)
	}
	if err != nil {
		return nil, storageUnavailable("lookup patient", err)
	}
	return identity, nil
}

func (a *Aggregator) checkWindow(days int) error {
	if days < 1 || days > a.maxAnalyticsDays {
		return invalidInput("days must be between 1 and %d, got %d", a.maxAnalyticsDays, days)
	}
	return nil
}

func (a *Aggregator) observe(operation string, started time.Time, err *error) {
	outcome := "ok"
	switch {
	case *err == nil:
	case errors.Is(*err, ErrInvalidInput):
		outcome = "invalid_input"
	case errors.Is(*err, ErrNotFound):
		outcome = "not_found"
	default:
		outcome = "storage_unavailable"
	}
	metrics.ComplianceQueries.WithLabelValues(operation, outcome).Inc()
	metrics.ComplianceQueryDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

func placeholder(patient storage.Identity) Summary {
	return Summary{
		PatientID:   patient.ID,
		PatientName: patient.Name,
	}
}
