package github

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Poller periodically fetches quota state so the coordinator stays fresh
// even when no other requests are in flight. Snapshot fan-out (history,
// metrics, broadcast) happens through the coordinator's snapshot callback.
type Poller interface {
	Start(ctx context.Context) error
	Stop() error
	ForceRefresh(ctx context.Context) error
}

// poller implements Poller.
type poller struct {
	log      logrus.FieldLogger
	client   Client
	interval time.Duration
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// Ensure poller implements Poller.
var _ Poller = (*poller)(nil)

// NewPoller creates a new quota poller.
func NewPoller(log logrus.FieldLogger, client Client, interval time.Duration) Poller {
	return &poller{
		log:      log.WithField("component", "poller"),
		client:   client,
		interval: interval,
	}
}

// Start begins the polling loop.
func (p *poller) Start(ctx context.Context) error {
	p.log.WithField("interval", p.interval).Info("Starting quota poller")

	ctx, p.cancel = context.WithCancel(ctx)

	// Do an initial poll.
	if err := p.poll(ctx); err != nil {
		p.log.WithError(err).Warn("Initial poll failed")
	}

	p.wg.Add(1)

	go p.loop(ctx)

	return nil
}

// Stop stops the polling loop.
func (p *poller) Stop() error {
	p.log.Info("Stopping quota poller")

	if p.cancel != nil {
		p.cancel()
	}

	p.wg.Wait()

	return nil
}

// ForceRefresh triggers an immediate poll.
func (p *poller) ForceRefresh(ctx context.Context) error {
	return p.poll(ctx)
}

// loop runs the polling loop.
func (p *poller) loop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.poll(ctx); err != nil {
				p.log.WithError(err).Error("Poll failed")
			}
		}
	}
}

// poll fetches quota state. The response headers flow into the coordinator,
// which notifies its observers.
func (p *poller) poll(ctx context.Context) error {
	limits, err := p.client.GetRateLimit(ctx)
	if err != nil {
		return err
	}

	p.log.WithFields(logrus.Fields{
		"rate_remaining": limits.Resources.Core.Remaining,
		"rate_limit":     limits.Resources.Core.Limit,
	}).Debug("Poll completed")

	return nil
}
