package bus

import (
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/socialmesh/edge/internal/config"
	"github.com/socialmesh/edge/internal/observability"
)

// NewInMemory builds a bus on watermill's in-process channel transport.
// Used by tests and single-process development setups; messages do not
// survive a restart.
func NewInMemory(cfg config.Broker, logger observability.Logger) (*Bus, error) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{
		Persistent: true,
	}, newLoggerAdapter(logger))

	b, err := New(pubSub, pubSub, cfg, logger)
	if err != nil {
		_ = pubSub.Close()
		return nil, err
	}

	b.closers = append(b.closers, pubSub.Close)
	return b, nil
}
