// Package credential implements the broker's Credential Store: per-connection
// secrets persisted to the OS keyring when available, falling back to an
// encrypted collection in the document store otherwise. Both back-ends
// satisfy the Store interface so callers never branch on which is active.
package credential

import "context"

// Secret is the (password?, passphrase?) pair attached to a connection id.
type Secret struct {
	Password   string
	Passphrase string
}

// Store persists and retrieves per-connection secrets. Retrieval failure is
// never fatal to a caller — connect() falls back to config-supplied secrets.
type Store interface {
	Save(ctx context.Context, connectionID string, secret Secret) error
	Load(ctx context.Context, connectionID string) (Secret, error)
	Delete(ctx context.Context, connectionID string) error
}

const (
	passwordService   = "mcp-ssh"
	passphraseService = "mcp-ssh-passphrase"
)
