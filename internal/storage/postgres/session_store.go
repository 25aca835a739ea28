package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goodtune/adherence/internal/storage"
)

type sessionStore struct {
	db *sql.DB
}

const insertSessionQuery = `
	INSERT INTO usage_sessions
		(id, patient_id, device_id, start_time, end_time, duration_minutes, time_of_day, compliance_score, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

func (s *sessionStore) Append(ctx context.Context, session storage.UsageSession) error {
	if session.ID == "" {
		session.ID = storage.NewID()
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, insertSessionQuery,
		session.ID,
		session.PatientID,
		session.DeviceID,
		session.StartTime,
		session.EndTime,
		session.DurationMinutes,
		string(session.TimeOfDay),
		session.ComplianceScore,
		session.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *sessionStore) QueryByPatient(ctx context.Context, patientID string, from, to time.Time, order storage.SortOrder) ([]storage.UsageSession, error) {
	direction := "ASC"
	if order == storage.Descending {
		direction = "DESC"
	}

	query := `
		SELECT id, patient_id, device_id, start_time, end_time, duration_minutes, time_of_day, compliance_score, created_at
		FROM usage_sessions
		WHERE patient_id = $1 AND created_at >= $2 AND created_at <= $3
		ORDER BY created_at ` + direction + `, id ` + direction

	rows, err := s.db.QueryContext(ctx, query, patientID, from, to)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]storage.UsageSession, 0)
	for rows.Next() {
		var (
			session   storage.UsageSession
			timeOfDay string
		)
		if err := rows.Scan(
			&session.ID,
			&session.PatientID,
			&session.DeviceID,
			&session.StartTime,
			&session.EndTime,
			&session.DurationMinutes,
			&timeOfDay,
			&session.ComplianceScore,
			&session.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		session.TimeOfDay = storage.TimeOfDay(timeOfDay)
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}
