// Package bus publishes deduplicated trade events onto the internal event
// stream.
package bus

import (
	"context"
	"encoding/json"
)

// Envelope is the wire format for one published event. Key doubles as the
// partition/ordering key.
type Envelope struct {
	TS     int64           `json:"ts"` // unix milli
	Source string          `json:"source"`
	Type   string          `json:"type"`
	Key    string          `json:"key"`
	Data   json.RawMessage `json:"data"`
}

type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
	Close() error
}
