// Package transfer implements the SFTP Transfer Manager: single and batch
// uploads/downloads with progress accounting and a periodic sweep of
// terminal records.
package transfer

import (
	"math"
	"time"
)

type Direction string

const (
	DirectionUpload   Direction = "upload"
	DirectionDownload Direction = "download"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Transfer is a single SFTP upload or download.
type Transfer struct {
	ID               string
	ConnectionID     string
	Direction        Direction
	LocalPath        string
	RemotePath       string
	Size             int64
	BytesTransferred int64
	Status           Status
	StartTime        time.Time
	EndTime          time.Time
	Error            string
}

func (t *Transfer) progress() int {
	if t.Size <= 0 {
		return 0
	}
	pct := int(math.Round(float64(t.BytesTransferred) / float64(t.Size) * 100))
	if pct > 100 {
		pct = 100
	}
	return pct
}

// ProgressEvent is published whenever a transfer's rounded percentage
// crosses a 5% boundary or its status changes.
type ProgressEvent struct {
	TransferID string
	Progress   int
	Status     Status
}

// BatchResult summarizes the outcome of a batch transfer.
type BatchResult struct {
	TransferIDs []string
	Succeeded   int
	Failed      int
}
