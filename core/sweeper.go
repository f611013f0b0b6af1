package core

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
)

// Sweeper periodically evicts expired routes, replay entries, and stale
// discovery state (spec §5). It takes an injected clock so tests can fire
// ticks deterministically instead of sleeping.
type Sweeper struct {
	routing   *RoutingTable
	replay    *ReplayGuard
	discovery *Discovery
	interval  time.Duration
	clock     clock.Clock
	log       *logrus.Logger
}

func NewSweeper(routing *RoutingTable, replay *ReplayGuard, discovery *Discovery, interval time.Duration, clk clock.Clock, log *logrus.Logger) *Sweeper {
	return &Sweeper{routing: routing, replay: replay, discovery: discovery, interval: interval, clock: clk, log: log}
}

// Run blocks sweeping on every tick until ctx is cancelled. Each component's
// cleanup runs in the fixed order routing → replay → discovery, matching the
// order the spec lists them; a failure in one never blocks the others since
// none of the three cleanup calls returns an error.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := s.clock.Ticker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce()
		}
	}
}

func (s *Sweeper) sweepOnce() {
	routes := s.routing.CleanupExpired()
	replays := s.replay.CleanupExpired()
	pending := s.discovery.CleanupExpired()
	s.log.WithFields(logrus.Fields{
		"routes_expired":     routes,
		"replays_expired":    replays,
		"discoveries_expired": pending,
	}).Debug("periodic sweep complete")
}
