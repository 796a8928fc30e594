package registry

import (
	"net"
	"strconv"

	"github.com/kindredcircl/healthd/internal/config"
)

// DefaultsFromConfig builds registration defaults from the health and
// alerts sections.
func DefaultsFromConfig(cfg *config.Config) Defaults {
	return Defaults{
		Interval:         cfg.Health.Interval.Duration,
		Timeout:          cfg.Health.Timeout.Duration,
		RetryCount:       cfg.Health.RetryCount,
		FailureThreshold: cfg.Alerts.FailureThreshold,
	}
}

// FromConfig converts configured targets into registry targets, including
// the built-in dependency checks toggled in the health section. Defaults
// are applied later, at registration.
func FromConfig(cfg *config.Config) []Target {
	targets := make([]Target, 0, len(cfg.Targets)+3)
	for _, tc := range cfg.Targets {
		targets = append(targets, Target{
			ID:               tc.ID,
			Protocol:         Protocol(tc.Protocol),
			Address:          tc.Address,
			Interval:         tc.Interval.Duration,
			Timeout:          tc.Timeout.Duration,
			RetryCount:       tc.RetryCount,
			FailureThreshold: tc.FailureThreshold,
		})
	}
	if cfg.Health.EnableDatabaseCheck {
		targets = append(targets, dependencyTarget("database", cfg.Database))
	}
	if cfg.Health.EnableCacheCheck {
		targets = append(targets, dependencyTarget("cache", cfg.Cache))
	}
	if cfg.Health.EnableMessagingCheck {
		targets = append(targets, dependencyTarget("messaging", cfg.Messaging))
	}
	return targets
}

func dependencyTarget(id string, dep config.DependencyConfig) Target {
	return Target{
		ID:       id,
		Protocol: ProtocolTCP,
		Address:  net.JoinHostPort(dep.Host, strconv.Itoa(dep.Port)),
	}
}
