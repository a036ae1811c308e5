package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xgrin/updownbot/internal/polymarket"
)

func newStoppedController() *Controller {
	loc := &fakeLocator{windows: map[int]*polymarket.Window{}}
	gate := &fakeGate{err: context.Canceled}
	e := New(testConfig(), loc, evenQuotes(), gate, &fakeGateway{}, &Contrarian{})
	return NewController(e, 50*time.Millisecond)
}

func TestController_StartStop(t *testing.T) {
	c := newStoppedController()
	assert.False(t, c.Running())

	require.NoError(t, c.Start(context.Background()))
	assert.True(t, c.Running())

	err := c.Start(context.Background())
	assert.Error(t, err, "a running controller refuses a second start")

	c.Stop()
	assert.False(t, c.Running())

	// Stop is idempotent and the controller can be restarted
	c.Stop()
	require.NoError(t, c.Start(context.Background()))
	c.Stop()
}

func TestController_StatusCarriesRunningFlag(t *testing.T) {
	c := newStoppedController()

	snap := c.Status()
	assert.False(t, snap.Running)
	assert.Equal(t, "contrarian", snap.Strategy)

	require.NoError(t, c.Start(context.Background()))
	assert.True(t, c.Status().Running)
	c.Stop()
}
