package bolt

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/adherence/internal/storage"
	"go.etcd.io/bbolt"
)

type identityStore struct {
	db *bbolt.DB
}

// Resolve looks up the triple and creates the identity in the same
// transaction when it does not exist yet.
func (s *identityStore) Resolve(ctx context.Context, name, roleIdentifier string, role storage.Role) (*storage.Identity, error) {
	var identity storage.Identity
	lookup := []byte(identityLookupKey(name, roleIdentifier, role))

	err := s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		identities := tx.Bucket([]byte(bucketIdentities))
		index := tx.Bucket([]byte(bucketIdentityLookup))
		if identities == nil || index == nil {
			return fmt.Errorf("identity buckets missing")
		}

		if id := index.Get(lookup); id != nil {
			data := identities.Get(id)
			if data == nil {
				return fmt.Errorf("identity index points at missing record %s", id)
			}
			return unmarshal(data, &identity)
		}

		identity = storage.Identity{
			ID:             storage.NewID(),
			Name:           name,
			Role:           role,
			RoleIdentifier: roleIdentifier,
			CreatedAt:      time.Now().UTC(),
		}
		data, err := marshal(identity)
		if err != nil {
			return err
		}
		if err := identities.Put([]byte(identity.ID), data); err != nil {
			return err
		}
		return index.Put(lookup, []byte(identity.ID))
	})
	if err != nil {
		return nil, err
	}
	return &identity, nil
}

func (s *identityStore) Get(ctx context.Context, id string) (*storage.Identity, error) {
	return getBucketValue[storage.Identity](ctx, s.db, bucketIdentities, id)
}

func (s *identityStore) ListByRole(ctx context.Context, role storage.Role) ([]storage.Identity, error) {
	all, err := listBucketPrefix[storage.Identity](ctx, s.db, bucketIdentities, "")
	if err != nil {
		return nil, err
	}
	matching := make([]storage.Identity, 0, len(all))
	for _, identity := range all {
		if identity.Role == role {
			matching = append(matching, identity)
		}
	}
	storage.SortIdentities(matching)
	return matching, nil
}

func identityLookupKey(name, roleIdentifier string, role storage.Role) string {
	return string(role) + "\x00" + roleIdentifier + "\x00" + name
}
