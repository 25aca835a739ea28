package redis

import (
	"context"
	"time"

	"github.com/goodtune/adherence/internal/storage"
	"github.com/redis/go-redis/v9"
)

type deviceStore struct {
	client *redis.Client
}

func (s *deviceStore) Register(ctx context.Context, device storage.Device) error {
	if device.ID == "" {
		device.ID = storage.NewID()
	}
	if device.CreatedAt.IsZero() {
		device.CreatedAt = time.Now().UTC()
	}

	lastConnected := ""
	if device.LastConnected != nil {
		lastConnected = formatTime(*device.LastConnected)
	}

	script := redis.NewScript(registerDeviceScript)
	keys := []string{deviceKey(device.PatientID, device.DeviceID), patientDevicesKey(device.PatientID)}
	args := []interface{}{
		device.ID,
		device.PatientID,
		device.DeviceID,
		device.DeviceName,
		formatBool(device.IsConnected),
		lastConnected,
		formatTime(device.CreatedAt),
	}

	return script.Run(ctx, s.client, keys, args...).Err()
}

// SetConnected is a single script so concurrent upserts of the same
// device never interleave.
func (s *deviceStore) SetConnected(ctx context.Context, deviceID, patientID string, connectedAt time.Time) error {
	script := redis.NewScript(setConnectedScript)
	keys := []string{deviceKey(patientID, deviceID), patientDevicesKey(patientID)}
	args := []interface{}{
		storage.NewID(),
		patientID,
		deviceID,
		formatTime(connectedAt),
	}

	return script.Run(ctx, s.client, keys, args...).Err()
}

func (s *deviceStore) IsConnected(ctx context.Context, patientID string) (bool, error) {
	devices, err := s.List(ctx, patientID)
	if err != nil {
		return false, err
	}
	for _, device := range devices {
		if device.IsConnected {
			return true, nil
		}
	}
	return false, nil
}

func (s *deviceStore) List(ctx context.Context, patientID string) ([]storage.Device, error) {
	deviceIDs, err := s.client.SMembers(ctx, patientDevicesKey(patientID)).Result()
	if err != nil {
		return nil, err
	}

	if len(deviceIDs) == 0 {
		return []storage.Device{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(deviceIDs))
	for i, deviceID := range deviceIDs {
		cmds[i] = pipe.HGetAll(ctx, deviceKey(patientID, deviceID))
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	devices := make([]storage.Device, 0, len(deviceIDs))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			continue
		}

		device, err := parseDevice(data)
		if err != nil {
			return nil, err
		}
		devices = append(devices, *device)
	}

	return devices, nil
}
