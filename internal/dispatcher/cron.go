package dispatcher

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/haasonsaas/spiritd/pkg/models"
)

// HeartbeatProducer feeds a Dispatcher a synthetic ExternalEvent on a cron
// schedule — a supplementary in-process producer alongside whatever
// external event stream the daemon is also fed from. It does not change
// the Dispatcher's bounded drop-oldest contract; it is just one more
// caller of Push.
type HeartbeatProducer struct {
	cron   *cron.Cron
	disp   *Dispatcher
	source string
	logger *slog.Logger
	ctx    context.Context
}

// NewHeartbeatProducer parses expression as a standard 5-field cron
// schedule and returns a producer that, once started, pushes a heartbeat
// ExternalEvent tagged with source into disp on every firing.
func NewHeartbeatProducer(expression, source string, disp *Dispatcher, logger *slog.Logger) (*HeartbeatProducer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := cron.New()
	h := &HeartbeatProducer{cron: c, disp: disp, source: source, logger: logger}

	if _, err := c.AddFunc(expression, h.fire); err != nil {
		return nil, err
	}
	return h, nil
}

// Start begins the cron scheduler. ctx is used as the Dispatcher Push
// context for every heartbeat fired after Start returns.
func (h *HeartbeatProducer) Start(ctx context.Context) {
	h.ctx = ctx
	h.cron.Start()
}

// Stop halts the scheduler, waiting for any in-flight firing to complete.
func (h *HeartbeatProducer) Stop() {
	<-h.cron.Stop().Done()
}

func (h *HeartbeatProducer) fire() {
	event := models.ExternalEvent{
		Source:    h.source,
		Content:   "Scheduled heartbeat: check in on anything outstanding.",
		Timestamp: time.Now().UTC(),
	}
	h.logger.Debug("heartbeat producer firing", "source", h.source)
	h.disp.Push(h.ctx, event)
}
