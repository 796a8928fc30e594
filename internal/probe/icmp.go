package probe

import (
	"context"
	"fmt"
	"math"
	"os/exec"
	"regexp"
	"runtime"
	"strconv"
	"time"

	"github.com/kindredcircl/healthd/internal/registry"
)

// icmpProber shells out to the system ping binary so the process does not
// need raw-socket privileges.
type icmpProber struct {
	target   registry.Target
	executor CommandExecutor
}

func newICMPProber(t registry.Target) *icmpProber {
	return &icmpProber{target: t, executor: &osExecutor{}}
}

// NewICMPProberWithExecutor creates an ICMP prober with a custom executor (for testing).
func NewICMPProberWithExecutor(t registry.Target, exec CommandExecutor) Prober {
	return &icmpProber{target: t, executor: exec}
}

var rttRegex = regexp.MustCompile(`time=(\d+\.?\d*)\s*ms`)

func (p *icmpProber) Probe(ctx context.Context) Outcome {
	start := time.Now()
	out := Outcome{
		TargetID: p.target.ID,
		ProbedAt: start,
	}

	ctx, cancel := context.WithTimeout(ctx, p.target.Timeout)
	defer cancel()

	timeoutSec := int(math.Ceil(p.target.Timeout.Seconds()))
	if timeoutSec < 1 {
		timeoutSec = 1
	}

	var args []string
	if runtime.GOOS == "darwin" {
		args = []string{"-c", "1", "-t", strconv.Itoa(timeoutSec), p.target.Address}
	} else {
		args = []string{"-c", "1", "-W", strconv.Itoa(timeoutSec), p.target.Address}
	}

	stdout, _, err := p.executor.Run(ctx, "ping", args...)
	out.Latency = capLatency(time.Since(start), p.target.Timeout)

	if err != nil {
		out.ErrorKind = classifyPing(ctx, err)
		out.Detail = fmt.Sprintf("ping %s: %v", p.target.Address, err)
		return out
	}

	matches := rttRegex.FindSubmatch(stdout)
	if matches == nil {
		out.ErrorKind = ErrorProtocol
		out.Detail = "could not parse RTT from ping output"
		return out
	}

	ms, _ := strconv.ParseFloat(string(matches[1]), 64)
	out.Latency = time.Duration(ms * float64(time.Millisecond))
	out.Success = true
	return out
}

// classifyPing maps ping failures to error kinds. A non-zero exit means no
// echo reply arrived within the deadline, which we report as a timeout.
func classifyPing(ctx context.Context, err error) ErrorKind {
	if ctx.Err() != nil {
		return ErrorTimeout
	}
	if _, ok := err.(*exec.ExitError); ok {
		return ErrorTimeout
	}
	return ErrorUnknown
}
