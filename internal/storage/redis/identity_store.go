package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/adherence/internal/storage"
	"github.com/redis/go-redis/v9"
)

type identityStore struct {
	client *redis.Client
}

func (s *identityStore) Resolve(ctx context.Context, name, roleIdentifier string, role storage.Role) (*storage.Identity, error) {
	newID := storage.NewID()

	script := redis.NewScript(resolveIdentityScript)
	keys := []string{identityLookupKey(name, roleIdentifier, role), roleIdentitiesKey(role), identityKey(newID)}
	args := []interface{}{
		newID,
		name,
		string(role),
		roleIdentifier,
		formatTime(time.Now()),
	}

	id, err := script.Run(ctx, s.client, keys, args...).Text()
	if err != nil {
		return nil, fmt.Errorf("resolve identity: %w", err)
	}

	return s.Get(ctx, id)
}

func (s *identityStore) Get(ctx context.Context, id string) (*storage.Identity, error) {
	data, err := s.client.HGetAll(ctx, identityKey(id)).Result()
	if err != nil {
		return nil, err
	}

	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	return parseIdentity(data)
}

func (s *identityStore) ListByRole(ctx context.Context, role storage.Role) ([]storage.Identity, error) {
	ids, err := s.client.SMembers(ctx, roleIdentitiesKey(role)).Result()
	if err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		return []storage.Identity{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, identityKey(id))
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	identities := make([]storage.Identity, 0, len(ids))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			continue
		}

		identity, err := parseIdentity(data)
		if err != nil {
			return nil, err
		}
		identities = append(identities, *identity)
	}

	storage.SortIdentities(identities)
	return identities, nil
}
