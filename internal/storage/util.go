package storage

import (
	"os"
	"slices"
	"strings"

	"github.com/google/uuid"
)

// EnsureDir ensures a directory exists with default permissions.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// NewID returns a new random record identifier.
func NewID() string {
	return uuid.NewString()
}

// SortIdentities orders identities by creation time, then id.
func SortIdentities(identities []Identity) {
	slices.SortFunc(identities, func(a, b Identity) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}
