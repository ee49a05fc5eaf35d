// Package publish forwards counter events to message brokers. Each publisher
// is fed from an eventmux subscription so a slow or unreachable broker never
// holds up the frame pump.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/banshee-data/footfall.report/internal/counter"
)

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("publisher closed")

// Publisher delivers events to an external system.
type Publisher interface {
	Publish(ctx context.Context, ev counter.Event) error
	Close() error
}

// Stats counts publish outcomes.
type Stats struct {
	Sent   int64 `json:"sent"`
	Acked  int64 `json:"acked"`
	Failed int64 `json:"failed"`
}

// encodeEvent is the wire payload shared by every publisher.
func encodeEvent(ev counter.Event) ([]byte, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize event %s: %w", ev.ID, err)
	}
	return payload, nil
}
