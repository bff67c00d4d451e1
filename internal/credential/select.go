package credential

import (
	"go.uber.org/zap"

	"github.com/opsctl/sshbroker/internal/config"
	"github.com/opsctl/sshbroker/internal/store"
)

// Open selects the keyring back-end if usable, otherwise the encrypted
// fallback collection inside db.
func Open(db *store.Store, cfg *config.EnvConfig) Store {
	if err := Probe(); err == nil {
		zap.L().Info("credential store: using OS keyring")
		return NewKeyringStore()
	} else {
		zap.L().Info("credential store: keyring unavailable, using encrypted fallback", zap.Error(err))
	}

	enc, err := NewEncryptedStore(db, cfg.DataDir, cfg.CredentialSealKey)
	if err != nil {
		zap.L().Panic("credential store: failed to initialize encrypted fallback", zap.Error(err))
	}
	return enc
}
