package transport

import (
	"context"
	"errors"
	"sync"
)

// Connector produces the platform clients. The concrete platform adapter
// lives in its own build and registers itself at init time, the same way
// database/sql drivers do.
type Connector func(ctx context.Context) (Conversation, TriggerSource, error)

var (
	connectorMu sync.Mutex
	connector   Connector
)

// RegisterConnector installs the platform adapter. Calling it twice panics:
// two adapters in one binary is a build mistake.
func RegisterConnector(c Connector) {
	connectorMu.Lock()
	defer connectorMu.Unlock()
	if connector != nil {
		panic("transport: connector already registered")
	}
	connector = c
}

// ErrNoConnector means the binary was built without a platform adapter.
var ErrNoConnector = errors.New("transport: no platform connector registered")

// Connect dials the platform through the registered adapter.
func Connect(ctx context.Context) (Conversation, TriggerSource, error) {
	connectorMu.Lock()
	c := connector
	connectorMu.Unlock()
	if c == nil {
		return nil, nil, ErrNoConnector
	}
	return c(ctx)
}
