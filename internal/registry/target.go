package registry

import (
	"fmt"
	"net"
	"net/url"
	"time"
)

// Protocol selects how a target is probed.
type Protocol string

const (
	ProtocolHTTP Protocol = "http"
	ProtocolTCP  Protocol = "tcp"
	ProtocolICMP Protocol = "icmp"
)

var validProtocols = map[Protocol]bool{
	ProtocolHTTP: true,
	ProtocolTCP:  true,
	ProtocolICMP: true,
}

// Target is a monitored component and its per-target check configuration.
// Immutable once registered; reconfiguration goes through Deregister/Register.
type Target struct {
	ID               string        `json:"id"`
	Protocol         Protocol      `json:"protocol"`
	Address          string        `json:"address"`
	Interval         time.Duration `json:"interval"`
	Timeout          time.Duration `json:"timeout"`
	RetryCount       uint          `json:"retry_count"`
	FailureThreshold uint          `json:"failure_threshold"`
	CreatedAt        time.Time     `json:"created_at"`
}

// Defaults fill in target fields left unset at registration time.
type Defaults struct {
	Interval         time.Duration
	Timeout          time.Duration
	RetryCount       uint
	FailureThreshold uint
}

func (t Target) withDefaults(d Defaults) Target {
	if t.Interval == 0 {
		t.Interval = d.Interval
	}
	if t.Timeout == 0 {
		t.Timeout = d.Timeout
	}
	if t.RetryCount == 0 {
		t.RetryCount = d.RetryCount
	}
	if t.FailureThreshold == 0 {
		t.FailureThreshold = d.FailureThreshold
	}
	return t
}

// Validate checks a fully-defaulted target definition. A failed validation
// rejects the registration and leaves existing targets untouched.
func (t Target) Validate() error {
	if !validProtocols[t.Protocol] {
		return fmt.Errorf("target %q: invalid protocol %q (must be http, tcp, or icmp)", t.ID, t.Protocol)
	}
	if t.Address == "" {
		return fmt.Errorf("target %q: address is required", t.ID)
	}
	switch t.Protocol {
	case ProtocolHTTP:
		u, err := url.Parse(t.Address)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("target %q: address %q is not a valid http(s) URL", t.ID, t.Address)
		}
	case ProtocolTCP:
		if _, _, err := net.SplitHostPort(t.Address); err != nil {
			return fmt.Errorf("target %q: address %q is not host:port: %w", t.ID, t.Address, err)
		}
	}
	if t.Interval <= 0 {
		return fmt.Errorf("target %q: interval must be positive", t.ID)
	}
	if t.Timeout <= 0 {
		return fmt.Errorf("target %q: timeout must be positive", t.ID)
	}
	if t.Timeout >= t.Interval {
		return fmt.Errorf("target %q: timeout %s must be shorter than interval %s", t.ID, t.Timeout, t.Interval)
	}
	if t.FailureThreshold < 1 {
		return fmt.Errorf("target %q: failure_threshold must be at least 1", t.ID)
	}
	return nil
}
