// controller.go - Drives the engine on a fixed cadence and exposes
// start/stop/status to the control surface.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Controller runs ticks on a fixed interval. Ticks execute sequentially in
// one goroutine; the engine's own mutex keeps a stricter execution model
// safe regardless.
type Controller struct {
	engine   *Engine
	interval time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
}

// NewController creates a stopped controller
func NewController(engine *Engine, interval time.Duration) *Controller {
	return &Controller{engine: engine, interval: interval}
}

// Start initializes the gateway and begins the tick loop. Gateway
// initialization failure is fatal and the loop is never entered.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return fmt.Errorf("already running")
	}

	if err := c.engine.InitGateway(ctx); err != nil {
		return fmt.Errorf("gateway init: %w", err)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.running = true

	go c.loop(loopCtx)

	log.Info().Dur("interval", c.interval).Msg("▶️ Controller started")
	return nil
}

// Stop cancels future ticks. An in-flight tick is not aborted.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return
	}
	c.cancel()
	c.running = false

	log.Info().Msg("⏹️ Controller stopped")
}

// Running reports whether the tick loop is active
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Status returns the engine snapshot with the running flag filled in
func (c *Controller) Status() Snapshot {
	snap := c.engine.Snapshot()
	snap.Running = c.Running()
	return snap
}

func (c *Controller) loop(ctx context.Context) {
	// Immediate first tick, then the fixed cadence
	c.engine.Tick(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.engine.Tick(ctx)
		}
	}
}
