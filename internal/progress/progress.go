// Package progress carries best-effort scan progress to an external
// listener. Messages are ephemeral and never persisted; a scan with no live
// listener uses the Empty dispatcher.
package progress

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

type MessageType string

const (
	TypeGitURL          MessageType = "GITURL"
	TypeBranch          MessageType = "BRANCH"
	TypeRevisionHash    MessageType = "REVISION_HASH"
	TypeFolder          MessageType = "FOLDER"
	TypeError           MessageType = "ERROR"
	TypeScannedDuration MessageType = "SCANNED_DURATION"
	TypeScannedFiles    MessageType = "SCANNED_FILE_COUNT"
	TypeScannedLines    MessageType = "SCANNED_NUMBER_OF_LINES"
	TypeCBOM            MessageType = "CBOM"
	TypeLabel           MessageType = "LABEL"
)

type Message struct {
	Type    MessageType `json:"type"`
	Payload string      `json:"message"`
}

// Dispatcher delivers progress messages at most once, fire-and-forget from
// the saga's point of view. A failing Send means the listener is gone and is
// treated like any other step failure by the caller.
type Dispatcher interface {
	Send(msg Message) error
}

// Empty swallows all messages. Valid for scans with no live listener.
type Empty struct{}

func (Empty) Send(Message) error { return nil }

// Writer streams messages as JSON lines. Safe for concurrent use.
type Writer struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{enc: json.NewEncoder(w)}
}

func (d *Writer) Send(msg Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enc.Encode(msg); err != nil {
		return fmt.Errorf("dispatching progress message: %w", err)
	}
	return nil
}
