package forward

import (
	"fmt"
	"sync"

	"github.com/burrowhq/burrow/cfg"
)

// SinkFactory is a function that creates a Sink from the forward config.
type SinkFactory func(cfg.ForwardConfiguration) (Sink, error)

var (
	sinkFactories = make(map[string]SinkFactory)
	factoryMu     sync.RWMutex
)

// RegisterSink registers a sink factory for a type. Called from sink
// package init functions.
func RegisterSink(sinkType string, factory SinkFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	sinkFactories[sinkType] = factory
}

// CreateSink creates a sink based on the configuration.
func CreateSink(config cfg.ForwardConfiguration) (Sink, error) {
	factoryMu.RLock()
	factory, exists := sinkFactories[config.Sink]
	factoryMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown forward sink type: %s", config.Sink)
	}
	return factory(config)
}
