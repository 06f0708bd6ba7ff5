package drivertest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/harun/llmsession/pkg/driver"
	"github.com/harun/llmsession/pkg/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactory_EchoAndRecord(t *testing.T) {
	f := NewFactory()
	d, err := f.Open(context.Background(), provider.Claude)
	require.NoError(t, err)

	out, err := d.Submit(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "claude:hello", out)
	assert.Equal(t, []string{"hello"}, f.Drivers(provider.Claude)[0].Prompts())
	assert.Equal(t, 1, f.Opens(provider.Claude))
}

func TestFactory_FailOpenConsumedInOrder(t *testing.T) {
	f := NewFactory()
	f.FailOpen(provider.ChatGPT, driver.LoginRequired(provider.ChatGPT, "", nil))

	_, err := f.Open(context.Background(), provider.ChatGPT)
	assert.ErrorIs(t, err, driver.ErrLoginRequired)

	_, err = f.Open(context.Background(), provider.ChatGPT)
	assert.NoError(t, err)
}

func TestDriver_ClosedReportsCrash(t *testing.T) {
	f := NewFactory()
	d, err := f.Open(context.Background(), provider.AIStudio)
	require.NoError(t, err)
	require.NoError(t, d.Close())

	_, err = d.Submit(context.Background(), "x")
	assert.ErrorIs(t, err, driver.ErrCrashDetected)
}

func TestDriver_DelayHonoursContext(t *testing.T) {
	f := NewFactory()
	f.SetDelay(provider.ChatGPT, time.Second)
	d, err := f.Open(context.Background(), provider.ChatGPT)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = d.Submit(ctx, "slow")
	assert.ErrorIs(t, err, driver.ErrTimeout)
}

func TestFactory_DetectsOverlap(t *testing.T) {
	f := NewFactory()
	f.SetDelay(provider.Claude, 30*time.Millisecond)
	d, err := f.Open(context.Background(), provider.Claude)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = d.Submit(context.Background(), "p")
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, f.Overlaps())
	assert.Equal(t, 2, f.MaxInFlight(provider.Claude))
}
