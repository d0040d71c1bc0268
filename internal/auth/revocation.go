package auth

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/zeebo/blake3"
)

const revokedPrefix = "revoked:"

// RevocationList stores revoked tokens. Entries carry a TTL equal to the
// remaining lifetime of the token, so badger drops them once the token
// would have expired anyway.
type RevocationList struct {
	db  *badger.DB
	log *slog.Logger
	now func() time.Time
}

// OpenRevocationList opens (or creates) a badger database at path.
func OpenRevocationList(path string, log *slog.Logger) (*RevocationList, error) {
	db, err := badger.Open(badger.DefaultOptions(path).WithLoggingLevel(badger.WARNING))
	if err != nil {
		return nil, fmt.Errorf("open revocation db: %w", err)
	}
	return NewRevocationList(db, log), nil
}

func NewRevocationList(db *badger.DB, log *slog.Logger) *RevocationList {
	return &RevocationList{db: db, log: log, now: time.Now}
}

// Close closes the underlying badger database.
func (r *RevocationList) Close() error {
	return r.db.Close()
}

// Revoke marks credential as revoked until the given instant. Revoking an
// already expired credential is a no-op.
func (r *RevocationList) Revoke(_ context.Context, credential string, until time.Time) error {
	ttl := until.Sub(r.now())
	if ttl <= 0 {
		r.log.Debug("Skipping revocation of expired token")
		return nil
	}
	return r.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(revocationKey(credential), []byte{1}).WithTTL(ttl)
		return txn.SetEntry(entry)
	})
}

// IsRevoked reports whether credential is on the list.
func (r *RevocationList) IsRevoked(_ context.Context, credential string) (bool, error) {
	err := r.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(revocationKey(credential))
		return err
	})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("lookup revocation: %w", err)
	}
}

// Tokens are never stored in clear; the key is a blake3 digest.
func revocationKey(credential string) []byte {
	sum := blake3.Sum256([]byte(credential))
	return []byte(revokedPrefix + hex.EncodeToString(sum[:]))
}
