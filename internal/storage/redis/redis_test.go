package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/goodtune/adherence/internal/config"
	"github.com/goodtune/adherence/internal/storage"
)

func setupTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	// miniredis.Addr() returns "host:port", so Port stays zero
	cfg := config.RedisConfig{
		Host:         mr.Addr(),
		Port:         0,
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 5,
		DialTimeout:  "5s",
		ReadTimeout:  "3s",
		WriteTimeout: "3s",
	}

	store, err := Open(cfg)
	if err != nil {
		t.Fatalf("Failed to open Redis store: %v", err)
	}

	return store, mr
}

func TestOpen_InvalidTimeout(t *testing.T) {
	_, err := Open(config.RedisConfig{Host: "localhost", DialTimeout: "bogus"})
	if err == nil {
		t.Fatal("Expected error for invalid dial_timeout")
	}
}

func TestSessionStore_AppendAndQuery(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	sessions := store.Sessions()
	base := time.Date(2024, 5, 1, 9, 30, 0, 123456789, time.UTC)

	fixtures := []storage.UsageSession{
		{ID: "s-1", PatientID: "patient-1", DeviceID: "dev-1", DurationMinutes: 60, TimeOfDay: storage.TimeOfDayDay, ComplianceScore: 12.5, CreatedAt: base.Add(-48 * time.Hour)},
		{ID: "s-2", PatientID: "patient-1", DeviceID: "dev-1", DurationMinutes: 120, TimeOfDay: storage.TimeOfDayNight, ComplianceScore: 25, CreatedAt: base.Add(-24 * time.Hour)},
		{ID: "s-3", PatientID: "patient-1", DeviceID: "dev-1", DurationMinutes: 30, TimeOfDay: storage.TimeOfDayDay, ComplianceScore: 6.25, CreatedAt: base},
		{ID: "s-4", PatientID: "patient-2", DeviceID: "dev-9", DurationMinutes: 15, TimeOfDay: storage.TimeOfDayDay, CreatedAt: base},
	}
	for _, session := range fixtures {
		session.StartTime = session.CreatedAt.Add(-time.Duration(session.DurationMinutes) * time.Minute)
		session.EndTime = session.CreatedAt
		if err := sessions.Append(ctx, session); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	got, err := sessions.QueryByPatient(ctx, "patient-1", base.Add(-24*time.Hour), base, storage.Ascending)
	if err != nil {
		t.Fatalf("QueryByPatient failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 sessions, got %d", len(got))
	}
	if got[0].ID != "s-2" || got[1].ID != "s-3" {
		t.Errorf("Unexpected order: %s, %s", got[0].ID, got[1].ID)
	}
	if !got[1].CreatedAt.Equal(base) {
		t.Errorf("Expected created_at %v, got %v", base, got[1].CreatedAt)
	}
	if got[1].ComplianceScore != 6.25 || got[1].TimeOfDay != storage.TimeOfDayDay {
		t.Errorf("Fields not round-tripped: %+v", got[1])
	}

	// Same millisecond, but one nanosecond past the upper bound
	got, err = sessions.QueryByPatient(ctx, "patient-1", base.Add(-72*time.Hour), base.Add(-time.Nanosecond), storage.Descending)
	if err != nil {
		t.Fatalf("QueryByPatient failed: %v", err)
	}
	if len(got) != 2 || got[0].ID != "s-2" || got[1].ID != "s-1" {
		t.Fatalf("Unexpected descending result: %+v", got)
	}
}

func TestSessionStore_AppendRejectsDuplicateID(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	session := storage.UsageSession{ID: "dup", PatientID: "p", DeviceID: "d", TimeOfDay: storage.TimeOfDayDay, CreatedAt: time.Now()}

	if err := store.Sessions().Append(ctx, session); err != nil {
		t.Fatalf("First append failed: %v", err)
	}
	if err := store.Sessions().Append(ctx, session); err == nil {
		t.Fatal("Expected duplicate append to fail")
	}
}

func TestDeviceStore_RegisterAndSetConnected(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	devices := store.Devices()

	if err := devices.Register(ctx, storage.Device{PatientID: "patient-1", DeviceID: "esp-1", DeviceName: "ESP Device"}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	connected, err := devices.IsConnected(ctx, "patient-1")
	if err != nil {
		t.Fatalf("IsConnected failed: %v", err)
	}
	if connected {
		t.Error("Expected device to start disconnected")
	}

	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	if err := devices.SetConnected(ctx, "esp-1", "patient-1", at); err != nil {
		t.Fatalf("SetConnected failed: %v", err)
	}
	if err := devices.SetConnected(ctx, "esp-2", "patient-1", at); err != nil {
		t.Fatalf("SetConnected (new device) failed: %v", err)
	}

	list, err := devices.List(ctx, "patient-1")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("Expected 2 devices, got %d", len(list))
	}
	for _, device := range list {
		if !device.IsConnected {
			t.Errorf("Expected %s to be connected", device.DeviceID)
		}
		if device.LastConnected == nil || !device.LastConnected.Equal(at) {
			t.Errorf("Unexpected last_connected for %s: %v", device.DeviceID, device.LastConnected)
		}
		if device.DeviceID == "esp-1" && device.DeviceName != "ESP Device" {
			t.Errorf("Expected name preserved, got %q", device.DeviceName)
		}
	}

	connected, err = devices.IsConnected(ctx, "patient-1")
	if err != nil {
		t.Fatalf("IsConnected failed: %v", err)
	}
	if !connected {
		t.Error("Expected patient to be connected")
	}
}

func TestIdentityStore_Resolve(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	identities := store.Identities()

	first, err := identities.Resolve(ctx, "Ada Lovelace", "P:100", storage.RolePatient)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	again, err := identities.Resolve(ctx, "Ada Lovelace", "P:100", storage.RolePatient)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if first.ID != again.ID {
		t.Errorf("Expected idempotent resolve, got %s and %s", first.ID, again.ID)
	}

	// Separator characters in components must not collide
	other, err := identities.Resolve(ctx, "Ada", "Lovelace:P:100", storage.RolePatient)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if other.ID == first.ID {
		t.Error("Expected distinct identity for different triple")
	}

	if _, err := identities.Resolve(ctx, "Dr Who", "D-1", storage.RoleDoctor); err != nil {
		t.Fatalf("Resolve doctor failed: %v", err)
	}

	patients, err := identities.ListByRole(ctx, storage.RolePatient)
	if err != nil {
		t.Fatalf("ListByRole failed: %v", err)
	}
	if len(patients) != 2 {
		t.Fatalf("Expected 2 patients, got %d", len(patients))
	}

	got, err := identities.Get(ctx, first.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Name != "Ada Lovelace" || got.Role != storage.RolePatient || got.RoleIdentifier != "P:100" {
		t.Errorf("Unexpected identity: %+v", got)
	}

	if _, err := identities.Get(ctx, "missing"); err != storage.ErrNotFound {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}
