package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// Store represents the root storage interface.
type Store interface {
	Close() error
	Sessions() SessionStore
	Devices() DeviceStore
	Identities() IdentityStore
}

// SessionStore is the append-only usage session log.
type SessionStore interface {
	Append(ctx context.Context, session UsageSession) error
	// QueryByPatient returns sessions with from <= created_at <= to.
	QueryByPatient(ctx context.Context, patientID string, from, to time.Time, order SortOrder) ([]UsageSession, error)
}

// DeviceStore is the per-patient device registry.
type DeviceStore interface {
	Register(ctx context.Context, device Device) error
	// SetConnected upserts the (deviceID, patientID) record as connected.
	SetConnected(ctx context.Context, deviceID, patientID string, connectedAt time.Time) error
	IsConnected(ctx context.Context, patientID string) (bool, error)
	List(ctx context.Context, patientID string) ([]Device, error)
}

// IdentityStore resolves patients and doctors.
type IdentityStore interface {
	// Resolve returns the identity for the triple, creating it when absent.
	Resolve(ctx context.Context, name, roleIdentifier string, role Role) (*Identity, error)
	Get(ctx context.Context, id string) (*Identity, error)
	ListByRole(ctx context.Context, role Role) ([]Identity, error)
}
