package engine

import (
	"fmt"

	"agentrank/internal/config"
	"agentrank/internal/events"
	"agentrank/internal/logging"
	"agentrank/internal/provider"
	"agentrank/internal/store"
	"agentrank/internal/telemetry"
)

// Open builds an Engine from cfg: the SQLite store at cfg.DBPath, the
// configured providers, Prometheus telemetry and, when cfg.Events.NATSURL is
// set, a NATS event publisher. An unreachable NATS server is logged and
// events are dropped; the loop itself does not depend on them.
// Callers must Close the returned Engine.
func Open(cfg *config.Config) (*Engine, error) {
	logger := logging.New("engine")

	reg, err := provider.FromConfig(cfg.Providers, logging.New("provider"))
	if err != nil {
		return nil, fmt.Errorf("providers: %w", err)
	}
	s, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", cfg.DBPath, err)
	}
	closers := []func() error{s.Close}

	var pub events.Publisher = events.Nop{}
	if cfg.Events.NATSURL != "" {
		np, err := events.DialNATS(cfg.Events.NATSURL, cfg.Events.SubjectPrefix, logging.New("events"))
		if err != nil {
			logger.Warn("event publishing disabled", "nats_url", cfg.Events.NATSURL, "error", err)
		} else {
			pub = np
			closers = append(closers, np.Close)
		}
	}

	e := New(cfg, s, reg,
		WithPublisher(pub),
		WithTelemetry(telemetry.New()),
		WithLogger(logger),
	)
	e.closers = closers
	logger.Debug("engine opened", "db", cfg.DBPath, "providers", reg.Names())
	return e, nil
}
