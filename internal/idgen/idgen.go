// Package idgen generates the ksuid-based identifiers used for every
// transient entity the broker tracks (transfers, tunnels, terminal sessions).
package idgen

import "github.com/segmentio/ksuid"

// New returns a fresh, lexically sortable identifier prefixed with kind, e.g.
// "xfer_1wQ...".
func New(prefix string) string {
	return prefix + "_" + ksuid.New().String()
}

func NewTransferID() string { return New("xfer") }
func NewTunnelID() string   { return New("tun") }
func NewSessionID() string  { return New("term") }
func NewTaskID() string     { return New("task") }
func NewInstanceID() string { return New("inst") }
