package credential

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/opsctl/sshbroker/internal/store"
)

const credentialBucket = "credentials_sealed"

// EncryptedStore backs Store with a bbolt collection in the document store,
// sealing each Secret with nacl/secretbox under a key derived from a
// machine-local seal key via argon2id. Used when no OS keyring is available
// (e.g. a headless container).
type EncryptedStore struct {
	db  *store.Store
	key [32]byte
}

type sealedRecord struct {
	Nonce      [24]byte `json:"nonce"`
	Ciphertext []byte   `json:"ciphertext"`
}

// NewEncryptedStore derives the seal key from sealKeyMaterial (the
// CREDENTIAL_SEAL_KEY env var, or a random key persisted under dataDir on
// first run) and opens the sealed collection inside db.
func NewEncryptedStore(db *store.Store, dataDir, sealKeyMaterial string) (*EncryptedStore, error) {
	if sealKeyMaterial == "" {
		material, err := loadOrCreateSealKeyFile(dataDir)
		if err != nil {
			return nil, err
		}
		sealKeyMaterial = material
	}

	salt := []byte("mcp-ssh-credential-seal-v1")
	derived := argon2.IDKey([]byte(sealKeyMaterial), salt, 1, 64*1024, 4, 32)

	es := &EncryptedStore{db: db}
	copy(es.key[:], derived)
	return es, nil
}

func loadOrCreateSealKeyFile(dataDir string) (string, error) {
	path := filepath.Join(dataDir, ".seal_key")
	if data, err := os.ReadFile(path); err == nil {
		return string(data), nil
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate seal key: %w", err)
	}
	material := fmt.Sprintf("%x", buf)
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(material), 0o600); err != nil {
		return "", fmt.Errorf("persist seal key: %w", err)
	}
	return material, nil
}

func (e *EncryptedStore) Save(_ context.Context, connectionID string, secret Secret) error {
	plaintext, err := json.Marshal(secret)
	if err != nil {
		return fmt.Errorf("encode secret: %w", err)
	}

	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}

	sealed := secretbox.Seal(nil, plaintext, &nonce, &e.key)
	return e.db.Put(credentialBucket, connectionID, sealedRecord{Nonce: nonce, Ciphertext: sealed})
}

func (e *EncryptedStore) Load(_ context.Context, connectionID string) (Secret, error) {
	var rec sealedRecord
	ok, err := e.db.Get(credentialBucket, connectionID, &rec)
	if err != nil || !ok {
		return Secret{}, err
	}

	plaintext, open := secretbox.Open(nil, rec.Ciphertext, &rec.Nonce, &e.key)
	if !open {
		return Secret{}, fmt.Errorf("credential for %s failed to decrypt", connectionID)
	}

	var secret Secret
	if err := json.Unmarshal(plaintext, &secret); err != nil {
		return Secret{}, fmt.Errorf("decode secret: %w", err)
	}
	return secret, nil
}

func (e *EncryptedStore) Delete(_ context.Context, connectionID string) error {
	return e.db.Delete(credentialBucket, connectionID)
}
