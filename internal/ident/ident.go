// Package ident provides record identifiers and the timestamp types used
// across the replica store.
package ident

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewGUID allocates a fresh record identifier. GUIDs are opaque to every
// layer above this one; nothing may parse structure back out of them.
func NewGUID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate guid: %w", err)
	}

	return id.String(), nil
}

// ValidGUID reports whether s is a well-formed identifier.
func ValidGUID(s string) bool {
	if s == "" {
		return false
	}

	_, err := uuid.Parse(s)

	return err == nil
}

// MsTime is a wall-clock timestamp in milliseconds since the Unix epoch.
// It is advisory only; causality decisions always go through vclocks.
type MsTime int64

// NowMs returns the current wall-clock time as an MsTime.
func NowMs() MsTime {
	return MsTime(time.Now().UnixMilli())
}

// Time converts back to a time.Time, mostly for display.
func (t MsTime) Time() time.Time {
	return time.UnixMilli(int64(t))
}

// ServerTimestamp is the server's idea of a modification time, in float
// seconds. It only ever flows inbound; clients never serialize one.
type ServerTimestamp float64

// AsMs converts a server timestamp to milliseconds.
func (t ServerTimestamp) AsMs() MsTime {
	return MsTime(float64(t) * 1000.0)
}
