package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goodtune/adherence/internal/storage"
)

type identityStore struct {
	db *sql.DB
}

const selectIdentityColumns = `SELECT id, name, role, role_identifier, created_at FROM identities`

// Resolve inserts the triple if it is new and then reads back whichever
// row won, so concurrent callers converge on one identity.
func (s *identityStore) Resolve(ctx context.Context, name, roleIdentifier string, role storage.Role) (*storage.Identity, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO identities (id, name, role, role_identifier, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (name, role_identifier, role) DO NOTHING`,
		storage.NewID(),
		name,
		string(role),
		roleIdentifier,
		time.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert identity: %w", err)
	}

	row := s.db.QueryRowContext(ctx,
		selectIdentityColumns+` WHERE name = $1 AND role_identifier = $2 AND role = $3`,
		name, roleIdentifier, string(role),
	)
	return scanIdentity(row)
}

func (s *identityStore) Get(ctx context.Context, id string) (*storage.Identity, error) {
	row := s.db.QueryRowContext(ctx, selectIdentityColumns+` WHERE id = $1`, id)
	return scanIdentity(row)
}

func (s *identityStore) ListByRole(ctx context.Context, role storage.Role) ([]storage.Identity, error) {
	rows, err := s.db.QueryContext(ctx, selectIdentityColumns+` WHERE role = $1 ORDER BY created_at, id`, string(role))
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	defer rows.Close()

	identities := make([]storage.Identity, 0)
	for rows.Next() {
		identity, err := scanIdentity(rows)
		if err != nil {
			return nil, err
		}
		identities = append(identities, *identity)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identities: %w", err)
	}
	return identities, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIdentity(row rowScanner) (*storage.Identity, error) {
	var (
		identity storage.Identity
		role     string
	)
	err := row.Scan(&identity.ID, &identity.Name, &role, &identity.RoleIdentifier, &identity.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan identity: %w", err)
	}
	identity.Role = storage.Role(role)
	return &identity, nil
}
