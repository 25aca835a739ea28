package redis

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/goodtune/adherence/internal/storage"
)

func sessionKey(id string) string {
	return keyPrefix + "session:" + id
}

func patientSessionsKey(patientID string) string {
	return keyPrefix + "sessions:patient:" + patientID
}

func deviceKey(patientID, deviceID string) string {
	return fmt.Sprintf("%sdevice:%s:%s", keyPrefix, url.QueryEscape(patientID), url.QueryEscape(deviceID))
}

func patientDevicesKey(patientID string) string {
	return keyPrefix + "devices:patient:" + patientID
}

func identityKey(id string) string {
	return keyPrefix + "identity:" + id
}

func identityLookupKey(name, roleIdentifier string, role storage.Role) string {
	return fmt.Sprintf("%sidentity:lookup:%s:%s:%s", keyPrefix, role, url.QueryEscape(roleIdentifier), url.QueryEscape(name))
}

func roleIdentitiesKey(role storage.Role) string {
	return keyPrefix + "identities:role:" + string(role)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// parseUsageSession converts a Redis hash to UsageSession
func parseUsageSession(data map[string]string) (*storage.UsageSession, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	startTime, err := time.Parse(time.RFC3339Nano, data["start_time"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse start_time: %w", err)
	}

	endTime, err := time.Parse(time.RFC3339Nano, data["end_time"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse end_time: %w", err)
	}

	createdAt, err := time.Parse(time.RFC3339Nano, data["created_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}

	duration, err := strconv.Atoi(data["duration_minutes"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse duration_minutes: %w", err)
	}

	score, err := strconv.ParseFloat(data["compliance_score"], 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse compliance_score: %w", err)
	}

	return &storage.UsageSession{
		ID:              data["id"],
		PatientID:       data["patient_id"],
		DeviceID:        data["device_id"],
		StartTime:       startTime,
		EndTime:         endTime,
		DurationMinutes: duration,
		TimeOfDay:       storage.TimeOfDay(data["time_of_day"]),
		ComplianceScore: score,
		CreatedAt:       createdAt,
	}, nil
}

// parseDevice converts a Redis hash to Device
func parseDevice(data map[string]string) (*storage.Device, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	createdAt, err := time.Parse(time.RFC3339Nano, data["created_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}

	connected, err := strconv.ParseBool(data["is_connected"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse is_connected: %w", err)
	}

	device := &storage.Device{
		ID:          data["id"],
		PatientID:   data["patient_id"],
		DeviceID:    data["device_id"],
		DeviceName:  data["device_name"],
		IsConnected: connected,
		CreatedAt:   createdAt,
	}

	if raw := data["last_connected"]; raw != "" {
		lastConnected, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse last_connected: %w", err)
		}
		device.LastConnected = &lastConnected
	}

	return device, nil
}

// parseIdentity converts a Redis hash to Identity
func parseIdentity(data map[string]string) (*storage.Identity, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	createdAt, err := time.Parse(time.RFC3339Nano, data["created_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}

	return &storage.Identity{
		ID:             data["id"],
		Name:           data["name"],
		Role:           storage.Role(data["role"]),
		RoleIdentifier: data["role_identifier"],
		CreatedAt:      createdAt,
	}, nil
}
