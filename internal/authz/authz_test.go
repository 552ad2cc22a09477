package authz

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sajda/internal/errors"
	"sajda/internal/models"
)

type fakePlatform struct {
	supported bool
	uiThread  bool

	mu       sync.Mutex
	status   models.AuthorizationStatus
	requests atomic.Int32
	// onRequest simulates the user answering the prompt.
	onRequest func()
}

func (f *fakePlatform) Supported() bool        { return f.supported }
func (f *fakePlatform) RequiresUIThread() bool { return f.uiThread }

func (f *fakePlatform) Status() models.AuthorizationStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakePlatform) setStatus(s models.AuthorizationStatus) {
	f.mu.Lock()
	f.status = s
	f.mu.Unlock()
}

func (f *fakePlatform) Request() error {
	f.requests.Add(1)
	if f.onRequest != nil {
		f.onRequest()
	}
	return nil
}

func newMachine(p Platform, d Dispatcher) *Machine {
	return New(Options{
		Platform:     p,
		Dispatcher:   d,
		PollInterval: 5 * time.Millisecond,
		Logger:       zerolog.Nop(),
	})
}

func TestUnsupportedPlatform(t *testing.T) {
	m := newMachine(&fakePlatform{supported: false}, nil)
	assert.Equal(t, models.StatusUnsupported, m.Check())
	assert.Equal(t, models.StatusUnsupported, m.Status())

	s, err := m.Await(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, models.StatusUnsupported, s)
}

func TestRequestOncePerNotDetermined(t *testing.T) {
	p := &fakePlatform{supported: true, status: models.StatusNotDetermined}
	m := newMachine(p, nil)

	require.NoError(t, m.Request(context.Background()))
	require.NoError(t, m.Request(context.Background()))
	assert.EqualValues(t, 1, p.requests.Load())

	// user decides, then resets the permission in OS settings
	p.setStatus(models.StatusDenied)
	require.NoError(t, m.Request(context.Background()))
	assert.EqualValues(t, 1, p.requests.Load())

	p.setStatus(models.StatusNotDetermined)
	require.NoError(t, m.Request(context.Background()))
	assert.EqualValues(t, 2, p.requests.Load())
}

func TestRequestMarshalsToUIThread(t *testing.T) {
	p := &fakePlatform{supported: true, uiThread: true, status: models.StatusNotDetermined}

	var dispatched atomic.Int32
	ui := make(chan func(), 1)
	go func() {
		for fn := range ui {
			fn()
		}
	}()
	defer close(ui)

	m := newMachine(p, func(fn func()) bool {
		dispatched.Add(1)
		ui <- fn
		return true
	})

	require.NoError(t, m.Request(context.Background()))
	assert.EqualValues(t, 1, dispatched.Load())
	assert.EqualValues(t, 1, p.requests.Load())
}

func TestRejectedDispatchAllowsRetry(t *testing.T) {
	p := &fakePlatform{supported: true, uiThread: true, status: models.StatusNotDetermined}
	accept := false
	m := newMachine(p, func(fn func()) bool {
		if !accept {
			return false
		}
		fn()
		return true
	})

	assert.Error(t, m.Request(context.Background()))
	assert.EqualValues(t, 0, p.requests.Load())

	accept = true
	require.NoError(t, m.Request(context.Background()))
	assert.EqualValues(t, 1, p.requests.Load())
}

func TestRequestAndAwaitSeesCallback(t *testing.T) {
	p := &fakePlatform{supported: true, status: models.StatusNotDetermined}
	m := newMachine(p, nil)
	p.onRequest = func() {
		go func() {
			time.Sleep(20 * time.Millisecond)
			p.setStatus(models.StatusAuthorized)
			m.Notify(models.StatusAuthorized)
		}()
	}

	start := time.Now()
	s, err := m.RequestAndAwait(context.Background(), 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAuthorized, s)
	assert.Less(t, time.Since(start), time.Second)
}

func TestAwaitPollsWithoutCallback(t *testing.T) {
	p := &fakePlatform{supported: true, status: models.StatusNotDetermined}
	m := newMachine(p, nil)

	go func() {
		time.Sleep(20 * time.Millisecond)
		p.setStatus(models.StatusDenied)
	}()

	s, err := m.Await(context.Background(), 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDenied, s)
}

func TestAwaitTimeoutIsNotDenied(t *testing.T) {
	p := &fakePlatform{supported: true, status: models.StatusNotDetermined}
	m := newMachine(p, nil)

	s, err := m.Await(context.Background(), 30*time.Millisecond)
	assert.True(t, errors.Is(err, errors.ErrAuthorizationTimeout))
	assert.Equal(t, models.StatusNotDetermined, s)
}
