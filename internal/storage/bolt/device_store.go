package bolt

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/adherence/internal/storage"
	"go.etcd.io/bbolt"
)

type deviceStore struct {
	db *bbolt.DB
}

func (s *deviceStore) Register(ctx context.Context, device storage.Device) error {
	if device.ID == "" {
		device.ID = storage.NewID()
	}
	if device.CreatedAt.IsZero() {
		device.CreatedAt = time.Now().UTC()
	}
	data, err := marshal(device)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b, err := patientDevices(tx, device.PatientID)
		if err != nil {
			return err
		}
		return b.Put([]byte(device.DeviceID), data)
	})
}

// SetConnected runs read-modify-write inside one bolt transaction, so the
// last writer wins without lost fields.
func (s *deviceStore) SetConnected(ctx context.Context, deviceID, patientID string, connectedAt time.Time) error {
	key := []byte(deviceID)
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b, err := patientDevices(tx, patientID)
		if err != nil {
			return err
		}
		var device storage.Device
		if existing := b.Get(key); existing != nil {
			if err := unmarshal(existing, &device); err != nil {
				return err
			}
		} else {
			device = storage.Device{
				ID:        storage.NewID(),
				PatientID: patientID,
				DeviceID:  deviceID,
				CreatedAt: connectedAt,
			}
		}
		device.IsConnected = true
		device.LastConnected = &connectedAt
		data, err := marshal(device)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
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
	devices := make([]storage.Device, 0)
	err := s.db.View(func(tx *bbolt.Tx) error {
		root := tx.Bucket([]byte(bucketDevices))
		if root == nil {
			return nil
		}
		b := root.Bucket([]byte(normalizeIndexKey(patientID)))
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var device storage.Device
			if err := unmarshal(v, &device); err != nil {
				return err
			}
			devices = append(devices, device)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return devices, nil
}

// patientDevices holds one patient's devices keyed by device id, so
// patient ids never share a key space.
func patientDevices(tx *bbolt.Tx, patientID string) (*bbolt.Bucket, error) {
	root := tx.Bucket([]byte(bucketDevices))
	if root == nil {
		return nil, fmt.Errorf("device bucket missing")
	}
	return root.CreateBucketIfNotExists([]byte(normalizeIndexKey(patientID)))
}
