package probe

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/kindredcircl/healthd/internal/registry"
)

type tcpProber struct {
	target registry.Target
}

func newTCPProber(t registry.Target) *tcpProber {
	return &tcpProber{target: t}
}

func (p *tcpProber) Probe(ctx context.Context) Outcome {
	start := time.Now()
	out := Outcome{
		TargetID: p.target.ID,
		ProbedAt: start,
	}

	dialer := &net.Dialer{Timeout: p.target.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", p.target.Address)
	out.Latency = capLatency(time.Since(start), p.target.Timeout)
	if err != nil {
		out.ErrorKind = classify(err)
		out.Detail = fmt.Sprintf("dial tcp %s: %v", p.target.Address, err)
		return out
	}
	conn.Close()
	out.Success = true
	return out
}
