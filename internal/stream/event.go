// Package stream implements the per-execution event multiplexer: one ordered
// producer stream replicated to any number of independently-paced
// subscribers, with bounded buffering and producer-priority backpressure.
package stream

import (
	"fmt"
	"strconv"
	"strings"
)

// EventType tags entries in an execution's event stream.
type EventType string

const (
	EventToken      EventType = "token"
	EventDelta      EventType = "delta"
	EventProgress   EventType = "progress"
	EventFileChange EventType = "file_change"
	EventComplete   EventType = "complete"
	EventError      EventType = "error"
	EventHeartbeat  EventType = "heartbeat"
)

// IsTerminal reports whether the event ends the stream.
func (t EventType) IsTerminal() bool {
	return t == EventComplete || t == EventError
}

// Event is one entry in an execution's ordered, append-only stream. ID is the
// sequence number assigned by the multiplexer, strictly increasing within one
// execution.
type Event struct {
	ID   uint64      `json:"id"`
	Type EventType   `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// TokenData carries streamed text for token and delta events.
type TokenData struct {
	Text string `json:"text"`
}

// ProgressData carries running token counters.
type ProgressData struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
}

// ErrorData carries structured failure detail for error events.
type ErrorData struct {
	ExecutionID string `json:"executionId"`
	SpecID      string `json:"specId"`
	Kind        string `json:"kind"`
	Message     string `json:"message"`
}

// CompleteData carries the final accumulated result summary.
type CompleteData struct {
	ExecutionID      string `json:"executionId"`
	MessageID        string `json:"messageId,omitempty"`
	Status           string `json:"status"`
	PromptTokens     int    `json:"promptTokens"`
	CompletionTokens int    `json:"completionTokens"`
	DurationMs       int64  `json:"durationMs"`
}

// Cursor marks a subscriber's last-seen event. The zero Cursor means "from
// the beginning".
type Cursor uint64

const cursorPrefix = "ev-"

// Encode renders the cursor as an opaque resumption token, in the shape
// transports hand back as Last-Event-ID.
func (c Cursor) Encode() string {
	return cursorPrefix + strconv.FormatUint(uint64(c), 10)
}

// DecodeCursor parses a token produced by Encode. An empty token decodes to
// the zero cursor.
func DecodeCursor(token string) (Cursor, error) {
	if token == "" {
		return 0, nil
	}
	raw, ok := strings.CutPrefix(token, cursorPrefix)
	if !ok {
		return 0, fmt.Errorf("malformed cursor %q", token)
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed cursor %q: %w", token, err)
	}
	return Cursor(n), nil
}
