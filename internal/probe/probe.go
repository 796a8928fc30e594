package probe

import (
	"context"
	"fmt"

	"github.com/kindredcircl/healthd/internal/registry"
)

// Prober executes a single health check against one target.
type Prober interface {
	Probe(ctx context.Context) Outcome
}

// New returns the appropriate Prober for the given target.
func New(t registry.Target) (Prober, error) {
	switch t.Protocol {
	case registry.ProtocolHTTP:
		return newHTTPProber(t), nil
	case registry.ProtocolTCP:
		return newTCPProber(t), nil
	case registry.ProtocolICMP:
		return newICMPProber(t), nil
	default:
		return nil, fmt.Errorf("unknown protocol %q", t.Protocol)
	}
}
