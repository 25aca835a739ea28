package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goodtune/adherence/internal/storage"
)

type deviceStore struct {
	db *sql.DB
}

func (s *deviceStore) Register(ctx context.Context, device storage.Device) error {
	if device.ID == "" {
		device.ID = storage.NewID()
	}
	if device.CreatedAt.IsZero() {
		device.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO devices (id, patient_id, device_id, device_name, is_connected, last_connected, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (device_id, patient_id) DO UPDATE SET
			device_name = EXCLUDED.device_name,
			is_connected = EXCLUDED.is_connected,
			last_connected = EXCLUDED.last_connected`,
		device.ID,
		device.PatientID,
		device.DeviceID,
		device.DeviceName,
		device.IsConnected,
		device.LastConnected,
		device.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("register device: %w", err)
	}
	return nil
}

func (s *deviceStore) SetConnected(ctx context.Context, deviceID, patientID string, connectedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO devices (id, patient_id, device_id, device_name, is_connected, last_connected, created_at)
		VALUES ($1, $2, $3, '', TRUE, $4, $4)
		ON CONFLICT (device_id, patient_id) DO UPDATE SET
			is_connected = TRUE,
			last_connected = EXCLUDED.last_connected`,
		storage.NewID(),
		patientID,
		deviceID,
		connectedAt,
	)
	if err != nil {
		return fmt.Errorf("set device connected: %w", err)
	}
	return nil
}

func (s *deviceStore) IsConnected(ctx context.Context, patientID string) (bool, error) {
	var connected bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM devices WHERE patient_id = $1 AND is_connected)`,
		patientID,
	).Scan(&connected)
	if err != nil {
		return false, fmt.Errorf("query device connection: %w", err)
	}
	return connected, nil
}

func (s *deviceStore) List(ctx context.Context, patientID string) ([]storage.Device, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, patient_id, device_id, device_name, is_connected, last_connected, created_at
		FROM devices
		WHERE patient_id = $1
		ORDER BY created_at, device_id`,
		patientID,
	)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	devices := make([]storage.Device, 0)
	for rows.Next() {
		var (
			device        storage.Device
			lastConnected sql.NullTime
		)
		if err := rows.Scan(
			&device.ID,
			&device.PatientID,
			&device.DeviceID,
			&device.DeviceName,
			&device.IsConnected,
			&lastConnected,
			&device.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		if lastConnected.Valid {
			t := lastConnected.Time
			device.LastConnected = &t
		}
		devices = append(devices, device)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate devices: %w", err)
	}
	return devices, nil
}
