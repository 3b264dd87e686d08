// Package residency keeps exactly one model loaded on the shared inference device.
//
// The device is assumed to hold a single large model at a time, so the only supported
// transition is "evict everything, then load one". All operations are best-effort: failures
// are logged and reported as booleans or empty results, never as errors.
package residency

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/joescharf/council/internal/inference"
	"github.com/joescharf/council/internal/models"
)

const (
	DefaultSettleDelay = 1500 * time.Millisecond
	lockRetryDelay     = 250 * time.Millisecond
	warmupPrompt       = "Hi"
)

// Observer receives every residency status transition.
type Observer func(model string, status models.ResidencyStatus)

// Controller owns the residency state of the inference device.
type Controller struct {
	gateway     inference.Gateway
	settleDelay time.Duration
	sleep       func(context.Context, time.Duration) error
	lock        *flock.Flock
	logger      *slog.Logger

	mu       sync.Mutex
	status   map[string]models.ResidencyStatus
	observer Observer
}

// Option customizes the controller.
type Option func(*Controller)

// WithSettleDelay overrides the wait after an unload request.
func WithSettleDelay(d time.Duration) Option {
	return func(c *Controller) {
		if d >= 0 {
			c.settleDelay = d
		}
	}
}

// WithSleeper overrides how settle delays are performed (useful for tests).
func WithSleeper(sleep func(context.Context, time.Duration) error) Option {
	return func(c *Controller) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// WithLockFile serializes residency transitions across processes with an exclusive file lock.
func WithLockFile(path string) Option {
	return func(c *Controller) {
		if strings.TrimSpace(path) != "" {
			c.lock = flock.New(path)
		}
	}
}

// WithLogger sets the logger used for best-effort failures.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewController creates a controller over the given gateway.
func NewController(gw inference.Gateway, opts ...Option) *Controller {
	c := &Controller{
		gateway:     gw,
		settleDelay: DefaultSettleDelay,
		sleep:       sleepContext,
		logger:      slog.Default(),
		status:      make(map[string]models.ResidencyStatus),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetObserver registers the callback notified on every status change. Pass nil to clear it.
func (c *Controller) SetObserver(obs Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observer = obs
}

// Status returns the last known status of model.
func (c *Controller) Status(model string) models.ResidencyStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.status[model]; ok {
		return st
	}
	return models.ResidencyIdle
}

// Snapshot returns a copy of the per-model status map.
func (c *Controller) Snapshot() map[string]models.ResidencyStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]models.ResidencyStatus, len(c.status))
	for k, v := range c.status {
		out[k] = v
	}
	return out
}

// ListResident returns the names of the models currently loaded. A gateway failure yields an empty list.
func (c *Controller) ListResident(ctx context.Context) []string {
	resident, err := c.gateway.ListResident(ctx)
	if err != nil {
		c.logger.Warn("list resident models failed", "error", err)
		return nil
	}
	names := make([]string, 0, len(resident))
	for _, m := range resident {
		names = append(names, m.Name)
	}
	return names
}

// Evict asks the device to unload model, waits the settle delay and re-checks residency.
// A model that lingers after the settle delay is tolerated.
func (c *Controller) Evict(ctx context.Context, model string) {
	unlock := c.acquire(ctx)
	defer unlock()

	c.unload(ctx, model)
	if err := c.sleep(ctx, c.settleDelay); err != nil {
		return
	}
	c.confirmEvicted(ctx, []string{model})
}

// EnsureLoaded guarantees model is resident before inference is issued against it.
// It returns false when the model could not be loaded; the caller must not proceed.
// Residency is only guaranteed at return; the file lock is released with it.
func (c *Controller) EnsureLoaded(ctx context.Context, model string) bool {
	unlock := c.acquire(ctx)
	defer unlock()

	resident := c.ListResident(ctx)
	if containsModel(resident, model) {
		c.setStatus(model, models.ResidencyReady)
		return true
	}

	if len(resident) > 0 {
		for _, name := range resident {
			c.unload(ctx, name)
		}
		if err := c.sleep(ctx, c.settleDelay); err != nil {
			c.setStatus(model, models.ResidencyError)
			return false
		}
		c.confirmEvicted(ctx, resident)
	}

	c.setStatus(model, models.ResidencyLoading)
	_, err := c.gateway.Generate(ctx, inference.Request{
		Model:   model,
		Prompt:  warmupPrompt,
		Options: &inference.Options{NumPredict: 1},
	})
	if err != nil {
		c.logger.Warn("model load failed", "model", model, "error", err)
		c.setStatus(model, models.ResidencyError)
		return false
	}
	c.setStatus(model, models.ResidencyReady)
	return true
}

func (c *Controller) unload(ctx context.Context, model string) {
	c.setStatus(model, models.ResidencyUnloading)
	if _, err := c.gateway.Generate(ctx, inference.Unload(model)); err != nil {
		c.logger.Warn("model unload failed", "model", model, "error", err)
		c.setStatus(model, models.ResidencyError)
	}
}

func (c *Controller) confirmEvicted(ctx context.Context, evicted []string) {
	remaining := c.ListResident(ctx)
	for _, name := range evicted {
		if containsModel(remaining, name) {
			c.logger.Warn("model still resident after unload", "model", name)
			continue
		}
		if c.Status(name) != models.ResidencyError {
			c.setStatus(name, models.ResidencyIdle)
		}
	}
}

func (c *Controller) setStatus(model string, st models.ResidencyStatus) {
	c.mu.Lock()
	c.status[model] = st
	obs := c.observer
	c.mu.Unlock()
	if obs != nil {
		obs(model, st)
	}
}

// acquire takes the cross-process lock when one is configured. The lock spans a
// single residency transition, not a review: another process may still evict a
// model between EnsureLoaded and the inference that follows it.
func (c *Controller) acquire(ctx context.Context) func() {
	if c.lock == nil {
		return func() {}
	}
	ok, err := c.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil || !ok {
		c.logger.Warn("residency lock unavailable, continuing unlocked", "path", c.lock.Path(), "error", lockErr(err))
		return func() {}
	}
	return func() {
		if err := c.lock.Unlock(); err != nil {
			c.logger.Warn("release residency lock", "path", c.lock.Path(), "error", err)
		}
	}
}

func lockErr(err error) error {
	if err == nil {
		return fmt.Errorf("lock held elsewhere")
	}
	return err
}

// containsModel matches names with and without the implicit ":latest" tag.
func containsModel(names []string, model string) bool {
	want := normalizeName(model)
	for _, n := range names {
		if normalizeName(n) == want {
			return true
		}
	}
	return false
}

func normalizeName(name string) string {
	name = strings.TrimSpace(name)
	if !strings.Contains(name, ":") {
		return name + ":latest"
	}
	return name
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
