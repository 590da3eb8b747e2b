package storage

import (
	"github.com/kimhsiao/ledgerdesk/backend/internal/crypto"
	"github.com/kimhsiao/ledgerdesk/backend/internal/errors"
)

// EncryptedStore seals values with AES-GCM before handing them to the
// wrapped Store.
type EncryptedStore struct {
	inner Store
	key   []byte
}

// NewEncryptedStore wraps inner. The key must be non-empty.
func NewEncryptedStore(inner Store, key []byte) (*EncryptedStore, error) {
	if len(key) == 0 {
		return nil, errors.Wrap(errors.ErrCryptoFailed, "empty storage key", crypto.ErrInvalidKey)
	}
	return &EncryptedStore{inner: inner, key: key}, nil
}

// Load implements Store.
func (s *EncryptedStore) Load(key string) ([]byte, error) {
	sealed, err := s.inner.Load(key)
	if err != nil || sealed == nil {
		return sealed, err
	}
	plain, err := crypto.Decrypt(string(sealed), s.key)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCryptoFailed, "decrypt "+key, err)
	}
	return plain, nil
}

// Save implements Store.
func (s *EncryptedStore) Save(key string, data []byte) error {
	sealed, err := crypto.Encrypt(data, s.key)
	if err != nil {
		return errors.Wrap(errors.ErrCryptoFailed, "encrypt "+key, err)
	}
	return s.inner.Save(key, []byte(sealed))
}

// Remove implements Store.
func (s *EncryptedStore) Remove(key string) error {
	return s.inner.Remove(key)
}
