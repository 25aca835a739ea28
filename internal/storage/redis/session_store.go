package redis

import (
	"context"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/goodtune/adherence/internal/storage"
	"github.com/redis/go-redis/v9"
)

type sessionStore struct {
	client *redis.Client
}

// Append stores an immutable session and scores it by created_at in the
// patient's sorted set.
func (s *sessionStore) Append(ctx context.Context, session storage.UsageSession) error {
	if session.ID == "" {
		session.ID = storage.NewID()
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}

	script := redis.NewScript(appendSessionScript)

	keys := []string{sessionKey(session.ID), patientSessionsKey(session.PatientID)}
	args := []interface{}{
		session.ID,
		session.PatientID,
		session.DeviceID,
		formatTime(session.StartTime),
		formatTime(session.EndTime),
		session.DurationMinutes,
		string(session.TimeOfDay),
		strconv.FormatFloat(session.ComplianceScore, 'f', -1, 64),
		formatTime(session.CreatedAt),
		session.CreatedAt.UnixMilli(),
	}

	return script.Run(ctx, s.client, keys, args...).Err()
}

// QueryByPatient narrows by millisecond score, then filters on the exact
// created_at so both bounds stay inclusive at full precision.
func (s *sessionStore) QueryByPatient(ctx context.Context, patientID string, from, to time.Time, order storage.SortOrder) ([]storage.UsageSession, error) {
	ids, err := s.client.ZRangeByScore(ctx, patientSessionsKey(patientID), &redis.ZRangeBy{
		Min: strconv.FormatInt(from.UnixMilli(), 10),
		Max: strconv.FormatInt(to.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		return []storage.UsageSession{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, sessionKey(id))
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	sessions := make([]storage.UsageSession, 0, len(ids))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			continue
		}

		session, err := parseUsageSession(data)
		if err != nil {
			return nil, err
		}
		if session.CreatedAt.Before(from) || session.CreatedAt.After(to) {
			continue
		}
		sessions = append(sessions, *session)
	}

	slices.SortStableFunc(sessions, func(a, b storage.UsageSession) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	if order == storage.Descending {
		slices.Reverse(sessions)
	}

	return sessions, nil
}
