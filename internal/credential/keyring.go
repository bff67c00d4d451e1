package credential

import (
	"context"
	"errors"

	"github.com/zalando/go-keyring"
	"go.uber.org/zap"
)

// KeyringStore backs Store with the OS keyring (Keychain, Secret Service,
// Windows Credential Manager — whichever go-keyring resolves on this host).
type KeyringStore struct{}

// Probe attempts a save/load/delete round trip to confirm a keyring backend
// is actually usable (headless Linux containers frequently have none).
func Probe() error {
	const probeID = "__mcp_ssh_probe__"
	if err := keyring.Set(passwordService, probeID, "probe"); err != nil {
		return err
	}
	if _, err := keyring.Get(passwordService, probeID); err != nil {
		_ = keyring.Delete(passwordService, probeID)
		return err
	}
	_ = keyring.Delete(passwordService, probeID)
	return nil
}

func NewKeyringStore() *KeyringStore { return &KeyringStore{} }

func (k *KeyringStore) Save(_ context.Context, connectionID string, secret Secret) error {
	if secret.Password != "" {
		if err := keyring.Set(passwordService, connectionID, secret.Password); err != nil {
			return err
		}
	}
	if secret.Passphrase != "" {
		if err := keyring.Set(passphraseService, connectionID, secret.Passphrase); err != nil {
			return err
		}
	}
	return nil
}

func (k *KeyringStore) Load(_ context.Context, connectionID string) (Secret, error) {
	var s Secret
	password, err := keyring.Get(passwordService, connectionID)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		zap.L().Warn("keyring password load failed", zap.String("connectionId", connectionID), zap.Error(err))
	}
	s.Password = password

	passphrase, err := keyring.Get(passphraseService, connectionID)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		zap.L().Warn("keyring passphrase load failed", zap.String("connectionId", connectionID), zap.Error(err))
	}
	s.Passphrase = passphrase
	return s, nil
}

func (k *KeyringStore) Delete(_ context.Context, connectionID string) error {
	_ = keyring.Delete(passwordService, connectionID)
	_ = keyring.Delete(passphraseService, connectionID)
	return nil
}
