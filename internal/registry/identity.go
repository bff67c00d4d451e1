package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Identity computes the deterministic connection id from username@host:port.
func Identity(username, host string, port int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s@%s:%d", username, host, port)))
	return hex.EncodeToString(sum[:])
}
