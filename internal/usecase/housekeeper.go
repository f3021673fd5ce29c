package usecase

import (
	"context"
	"fmt"
	"time"

	"FinCast/pkg/logger"

	"github.com/robfig/cron/v3"
)

// Housekeeper runs periodic maintenance off the request path.
type Housekeeper struct {
	cron     *cron.Cron
	registry *ModelRegistry
	spec     string
	daysOld  int
	timeout  time.Duration
	l        *logger.Logger
}

// NewHousekeeper registers model cleanup on spec, a six-field cron expression with seconds.
func NewHousekeeper(registry *ModelRegistry, spec string, daysOld int, l *logger.Logger) (*Housekeeper, error) {
	if l == nil {
		l = logger.Nop()
	}
	h := &Housekeeper{
		cron:     cron.New(cron.WithSeconds()),
		registry: registry,
		spec:     spec,
		daysOld:  daysOld,
		timeout:  10 * time.Minute,
		l:        l,
	}
	if _, err := h.cron.AddFunc(spec, h.cleanup); err != nil {
		return nil, fmt.Errorf("register cleanup task: %w", err)
	}
	return h, nil
}

func (h *Housekeeper) Start() {
	h.cron.Start()
	h.l.Info("housekeeper started", logger.String("cron", h.spec), logger.Int("cleanup_days", h.daysOld))
}

// Stop waits for a running task or ctx, whichever comes first.
func (h *Housekeeper) Stop(ctx context.Context) error {
	done := h.cron.Stop()
	select {
	case <-done.Done():
		h.l.Info("housekeeper stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunCleanup executes the cleanup task immediately.
func (h *Housekeeper) RunCleanup(ctx context.Context) (int, error) {
	return h.registry.CleanupOldModels(ctx, h.daysOld)
}

func (h *Housekeeper) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	n, err := h.RunCleanup(ctx)
	if err != nil {
		h.l.Error("scheduled cleanup failed", logger.Int("deleted", n), logger.Error(err))
		return
	}
	h.l.Info("scheduled cleanup finished", logger.Int("deleted", n))
}
