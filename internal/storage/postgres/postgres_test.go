package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/goodtune/adherence/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMockStore(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *Store) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	return db, mock, New(db)
}

func TestMigrate(t *testing.T) {
	db, mock, store := setupMockStore(t)
	defer db.Close()

	for range schema {
		mock.ExpectExec(`CREATE`).WillReturnResult(sqlmock.NewResult(0, 0))
	}

	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate_Error(t *testing.T) {
	db, mock, store := setupMockStore(t)
	defer db.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS usage_sessions`).WillReturnError(errors.New("permission denied"))

	err := store.Migrate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "apply schema")
}

func TestSessionAppend(t *testing.T) {
	db, mock, store := setupMockStore(t)
	defer db.Close()

	createdAt := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	session := storage.UsageSession{
		ID:              "s-1",
		PatientID:       "p-1",
		DeviceID:        "d-1",
		StartTime:       createdAt.Add(-time.Hour),
		EndTime:         createdAt,
		DurationMinutes: 60,
		TimeOfDay:       storage.TimeOfDayNight,
		ComplianceScore: 12.5,
		CreatedAt:       createdAt,
	}

	mock.ExpectExec(`INSERT INTO usage_sessions`).
		WithArgs("s-1", "p-1", "d-1", session.StartTime, session.EndTime, 60, "night", 12.5, createdAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Sessions().Append(context.Background(), session))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionQueryByPatient(t *testing.T) {
	db, mock, store := setupMockStore(t)
	defer db.Close()

	from := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	created := to.Add(-time.Hour)

	rows := sqlmock.NewRows([]string{
		"id", "patient_id", "device_id", "start_time", "end_time",
		"duration_minutes", "time_of_day", "compliance_score", "created_at",
	}).AddRow("s-2", "p-1", "d-1", created, created, 30, "day", 6.25, created)

	mock.ExpectQuery(`ORDER BY created_at DESC, id DESC`).
		WithArgs("p-1", from, to).
		WillReturnRows(rows)

	sessions, err := store.Sessions().QueryByPatient(context.Background(), "p-1", from, to, storage.Descending)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "s-2", sessions[0].ID)
	assert.Equal(t, storage.TimeOfDayDay, sessions[0].TimeOfDay)
	assert.Equal(t, 30, sessions[0].DurationMinutes)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionQueryByPatient_Error(t *testing.T) {
	db, mock, store := setupMockStore(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT`).WillReturnError(sql.ErrConnDone)

	_, err := store.Sessions().QueryByPatient(context.Background(), "p-1", time.Time{}, time.Now(), storage.Ascending)
	require.Error(t, err)
	assert.ErrorIs(t, err, sql.ErrConnDone)
}

func TestDeviceSetConnectedAndIsConnected(t *testing.T) {
	db, mock, store := setupMockStore(t)
	defer db.Close()

	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectExec(`INSERT INTO devices .* ON CONFLICT \(device_id, patient_id\) DO UPDATE`).
		WithArgs(sqlmock.AnyArg(), "p-1", "d-1", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("p-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	ctx := context.Background()
	require.NoError(t, store.Devices().SetConnected(ctx, "d-1", "p-1", at))

	connected, err := store.Devices().IsConnected(ctx, "p-1")
	require.NoError(t, err)
	assert.True(t, connected)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeviceList(t *testing.T) {
	db, mock, store := setupMockStore(t)
	defer db.Close()

	created := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{
		"id", "patient_id", "device_id", "device_name", "is_connected", "last_connected", "created_at",
	}).
		AddRow("id-1", "p-1", "d-1", "ESP Device", false, nil, created).
		AddRow("id-2", "p-1", "d-2", "", true, created, created)

	mock.ExpectQuery(`FROM devices`).WithArgs("p-1").WillReturnRows(rows)

	devices, err := store.Devices().List(context.Background(), "p-1")
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Nil(t, devices[0].LastConnected)
	require.NotNil(t, devices[1].LastConnected)
	assert.True(t, devices[1].LastConnected.Equal(created))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIdentityResolve(t *testing.T) {
	db, mock, store := setupMockStore(t)
	defer db.Close()

	created := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(`INSERT INTO identities .* ON CONFLICT \(name, role_identifier, role\) DO NOTHING`).
		WithArgs(sqlmock.AnyArg(), "Alice", "patient", "P-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`FROM identities WHERE name = \$1`).
		WithArgs("Alice", "P-1", "patient").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "role", "role_identifier", "created_at"}).
			AddRow("existing", "Alice", "patient", "P-1", created))

	identity, err := store.Identities().Resolve(context.Background(), "Alice", "P-1", storage.RolePatient)
	require.NoError(t, err)
	assert.Equal(t, "existing", identity.ID)
	assert.Equal(t, storage.RolePatient, identity.Role)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIdentityGet_NotFound(t *testing.T) {
	db, mock, store := setupMockStore(t)
	defer db.Close()

	mock.ExpectQuery(`FROM identities WHERE id = \$1`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "role", "role_identifier", "created_at"}))

	_, err := store.Identities().Get(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIdentityListByRole(t *testing.T) {
	db, mock, store := setupMockStore(t)
	defer db.Close()

	created := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`WHERE role = \$1 ORDER BY created_at, id`).
		WithArgs("doctor").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "role", "role_identifier", "created_at"}).
			AddRow("d-1", "Dr A", "doctor", "D-1", created).
			AddRow("d-2", "Dr B", "doctor", "D-2", created.Add(time.Minute)))

	doctors, err := store.Identities().ListByRole(context.Background(), storage.RoleDoctor)
	require.NoError(t, err)
	require.Len(t, doctors, 2)
	assert.Equal(t, "d-1", doctors[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}
