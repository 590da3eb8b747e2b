package crypto

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// AccountRemoteToken is the credential account holding the remote API
// bearer token.
const AccountRemoteToken = "remote_token"

// ErrCredentialNotFound is returned when no credential is stored for an
// account.
var ErrCredentialNotFound = fmt.Errorf("credential not found")

// CredentialStore keeps small secrets as AES-GCM sealed files under
// <dir>/secure, keyed by the machine identifier.
type CredentialStore struct {
	dir string
	key []byte
}

// NewCredentialStore creates a CredentialStore rooted at dataDir.
func NewCredentialStore(dataDir string) *CredentialStore {
	return &CredentialStore{
		dir: filepath.Join(dataDir, "secure"),
		key: DeriveKey(MachineID()),
	}
}

// path returns the credential file for account with path separators and
// parent references neutralized.
func (s *CredentialStore) path(account string) string {
	safe := strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(account)
	return filepath.Join(s.dir, safe+".cred")
}

// Store seals value and writes it for account.
func (s *CredentialStore) Store(account, value string) error {
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return fmt.Errorf("failed to create secure directory: %w", err)
	}
	sealed, err := Encrypt([]byte(value), s.key)
	if err != nil {
		return fmt.Errorf("failed to encrypt credential: %w", err)
	}
	if err := os.WriteFile(s.path(account), []byte(sealed), 0600); err != nil {
		return fmt.Errorf("failed to write credential file: %w", err)
	}
	return nil
}

// Get returns the credential for account, or ErrCredentialNotFound.
func (s *CredentialStore) Get(account string) (string, error) {
	data, err := os.ReadFile(s.path(account))
	if os.IsNotExist(err) {
		return "", ErrCredentialNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read credential file: %w", err)
	}
	value, err := Decrypt(string(data), s.key)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt credential: %w", err)
	}
	return string(value), nil
}

// Delete removes the credential for account. A missing credential is not
// an error.
func (s *CredentialStore) Delete(account string) error {
	if err := os.Remove(s.path(account)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete credential file: %w", err)
	}
	return nil
}
