package probe

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/kindredcircl/healthd/internal/registry"
)

type httpProber struct {
	target registry.Target
	client *http.Client
}

func newHTTPProber(t registry.Target) *httpProber {
	return &httpProber{
		target: t,
		client: &http.Client{Timeout: t.Timeout},
	}
}

func (p *httpProber) Probe(ctx context.Context) Outcome {
	start := time.Now()
	out := Outcome{
		TargetID: p.target.ID,
		ProbedAt: start,
	}

	ctx, cancel := context.WithTimeout(ctx, p.target.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.target.Address, nil)
	if err != nil {
		out.ErrorKind = ErrorUnknown
		out.Detail = fmt.Sprintf("creating request: %v", err)
		out.Latency = capLatency(time.Since(start), p.target.Timeout)
		return out
	}

	resp, err := p.client.Do(req)
	out.Latency = capLatency(time.Since(start), p.target.Timeout)
	if err != nil {
		out.ErrorKind = classify(err)
		out.Detail = err.Error()
		return out
	}
	resp.Body.Close()

	// Any 2xx or 3xx response counts as a pass.
	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		out.ErrorKind = ErrorProtocol
		out.Detail = fmt.Sprintf("unacceptable status %d", resp.StatusCode)
		return out
	}

	out.Success = true
	return out
}
