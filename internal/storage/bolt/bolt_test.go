package bolt

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/goodtune/adherence/internal/storage"
)

func TestSessionStoreQueryByPatient(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	base := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	sessions := []storage.UsageSession{
		{ID: "s-old", PatientID: "patient-a", DeviceID: "dev-1", DurationMinutes: 10, TimeOfDay: storage.TimeOfDayDay, CreatedAt: base.AddDate(0, 0, -40)},
		{ID: "s-1", PatientID: "patient-a", DeviceID: "dev-1", DurationMinutes: 20, TimeOfDay: storage.TimeOfDayDay, CreatedAt: base.AddDate(0, 0, -2)},
		{ID: "s-2", PatientID: "patient-a", DeviceID: "dev-1", DurationMinutes: 30, TimeOfDay: storage.TimeOfDayNight, CreatedAt: base.AddDate(0, 0, -1)},
		{ID: "s-3", PatientID: "patient-a", DeviceID: "dev-1", DurationMinutes: 40, TimeOfDay: storage.TimeOfDayDay, CreatedAt: base},
		{ID: "s-other", PatientID: "patient-b", DeviceID: "dev-2", DurationMinutes: 50, TimeOfDay: storage.TimeOfDayDay, CreatedAt: base},
	}
	for _, session := range sessions {
		if err := store.Sessions().Append(ctx, session); err != nil {
			t.Fatalf("append session %s: %v", session.ID, err)
		}
	}

	tests := []struct {
		name  string
		from  time.Time
		to    time.Time
		order storage.SortOrder
		want  []string
	}{
		{"window ascending", base.AddDate(0, 0, -30), base, storage.Ascending, []string{"s-1", "s-2", "s-3"}},
		{"window descending", base.AddDate(0, 0, -30), base, storage.Descending, []string{"s-3", "s-2", "s-1"}},
		{"inclusive bounds", base.AddDate(0, 0, -2), base.AddDate(0, 0, -1), storage.Ascending, []string{"s-1", "s-2"}},
		{"empty range", base.Add(time.Minute), base.Add(time.Hour), storage.Ascending, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.Sessions().QueryByPatient(ctx, "patient-a", tt.from, tt.to, tt.order)
			if err != nil {
				t.Fatalf("query sessions: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("expected %d sessions, got %d", len(tt.want), len(got))
			}
			for i, id := range tt.want {
				if got[i].ID != id {
					t.Errorf("session %d: expected %s, got %s", i, id, got[i].ID)
				}
			}
		})
	}
}

func TestSessionStoreUnknownPatient(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	got, err := store.Sessions().QueryByPatient(context.Background(), "nobody", time.Time{}, time.Now(), storage.Ascending)
	if err != nil {
		t.Fatalf("query sessions: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no sessions, got %d", len(got))
	}
}

func TestDeviceStoreSetConnected(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	devices := store.Devices()

	if err := devices.Register(ctx, storage.Device{PatientID: "patient-a", DeviceID: "dev-1", DeviceName: "ESP Device"}); err != nil {
		t.Fatalf("register device: %v", err)
	}

	connected, err := devices.IsConnected(ctx, "patient-a")
	if err != nil {
		t.Fatalf("is connected: %v", err)
	}
	if connected {
		t.Fatal("expected freshly registered device to be disconnected")
	}

	now := time.Now().UTC()
	if err := devices.SetConnected(ctx, "dev-1", "patient-a", now); err != nil {
		t.Fatalf("set connected: %v", err)
	}
	// Unknown devices are upserted.
	if err := devices.SetConnected(ctx, "dev-2", "patient-a", now); err != nil {
		t.Fatalf("set connected new device: %v", err)
	}

	list, err := devices.List(ctx, "patient-a")
	if err != nil {
		t.Fatalf("list devices: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 devices, got %d", len(list))
	}
	for _, device := range list {
		if !device.IsConnected || device.LastConnected == nil {
			t.Errorf("device %s not marked connected", device.DeviceID)
		}
		if device.DeviceID == "dev-1" && device.DeviceName != "ESP Device" {
			t.Errorf("expected name to survive upsert, got %q", device.DeviceName)
		}
	}

	connected, err = devices.IsConnected(ctx, "patient-a")
	if err != nil {
		t.Fatalf("is connected: %v", err)
	}
	if !connected {
		t.Fatal("expected patient to have a connected device")
	}
}

func TestDeviceStoreKeepsPatientsApart(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	devices := store.Devices()
	now := time.Now().UTC()

	if err := devices.SetConnected(ctx, "esp-1", "clinic/42", now); err != nil {
		t.Fatalf("set connected: %v", err)
	}

	connected, err := devices.IsConnected(ctx, "clinic")
	if err != nil {
		t.Fatalf("is connected: %v", err)
	}
	if connected {
		t.Error("patient clinic must not see devices of clinic/42")
	}
	list, err := devices.List(ctx, "clinic")
	if err != nil {
		t.Fatalf("list devices: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("expected no devices for clinic, got %d", len(list))
	}

	// ("a/b", "c") and ("a", "b/c") join to the same path.
	if err := devices.SetConnected(ctx, "c", "a/b", now); err != nil {
		t.Fatalf("set connected a/b: %v", err)
	}
	if err := devices.SetConnected(ctx, "b/c", "a", now); err != nil {
		t.Fatalf("set connected a: %v", err)
	}
	for _, tt := range []struct{ patient, device string }{{"a/b", "c"}, {"a", "b/c"}} {
		list, err := devices.List(ctx, tt.patient)
		if err != nil {
			t.Fatalf("list %s: %v", tt.patient, err)
		}
		if len(list) != 1 || list[0].PatientID != tt.patient || list[0].DeviceID != tt.device {
			t.Errorf("patient %s: unexpected devices %+v", tt.patient, list)
		}
	}
}

func TestIdentityStoreResolveIsIdempotent(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	identities := store.Identities()

	first, err := identities.Resolve(ctx, "Alice", "P-001", storage.RolePatient)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	second, err := identities.Resolve(ctx, "Alice", "P-001", storage.RolePatient)
	if err != nil {
		t.Fatalf("resolve again: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected same identity, got %s and %s", first.ID, second.ID)
	}

	if _, err := identities.Resolve(ctx, "Dr Bob", "D-001", storage.RoleDoctor); err != nil {
		t.Fatalf("resolve doctor: %v", err)
	}

	patients, err := identities.ListByRole(ctx, storage.RolePatient)
	if err != nil {
		t.Fatalf("list patients: %v", err)
	}
	if len(patients) != 1 || patients[0].ID != first.ID {
		t.Fatalf("expected only Alice in patient list, got %+v", patients)
	}

	if _, err := identities.Get(ctx, "missing"); err != storage.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func openTestStore(t *testing.T) *Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "adherence.bolt")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return store
}
