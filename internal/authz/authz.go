// Package authz tracks the OS location permission and drives the one-time
// prompt.
package authz

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"sajda/internal/errors"
	"sajda/internal/models"
)

// Platform is the native permission surface.
type Platform interface {
	// Supported is false when the build has no native location at all.
	Supported() bool
	// Status reads the current permission without prompting.
	Status() models.AuthorizationStatus
	// Request hands the permission prompt to the OS and returns once it has
	// been dispatched, not when the user answers.
	Request() error
	// RequiresUIThread reports whether Request must run on the primary UI thread.
	RequiresUIThread() bool
}

// Dispatcher runs fn on the host's UI thread. It returns false if the host
// could not accept the call.
type Dispatcher func(fn func()) bool

const defaultPollInterval = 250 * time.Millisecond

type Options struct {
	Platform Platform
	// Dispatcher is required when the platform needs the UI thread and the
	// caller is not already on it. Nil runs the request inline.
	Dispatcher   Dispatcher
	Clock        clockwork.Clock
	PollInterval time.Duration
	Logger       zerolog.Logger
}

// Machine is the authorization state machine.
type Machine struct {
	platform Platform
	dispatch Dispatcher
	clock    clockwork.Clock
	poll     time.Duration
	log      zerolog.Logger

	mu        sync.Mutex
	last      models.AuthorizationStatus
	requested bool
	listeners map[int]chan models.AuthorizationStatus
	nextID    int
}

func New(opts Options) *Machine {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	m := &Machine{
		platform:  opts.Platform,
		dispatch:  opts.Dispatcher,
		clock:     opts.Clock,
		poll:      opts.PollInterval,
		log:       opts.Logger.With().Str("component", "authz").Logger(),
		listeners: make(map[int]chan models.AuthorizationStatus),
		last:      models.StatusNotDetermined,
	}
	if m.platform == nil || !m.platform.Supported() {
		m.last = models.StatusUnsupported
	}
	return m
}

// Check queries the platform. It never prompts.
func (m *Machine) Check() models.AuthorizationStatus {
	if m.platform == nil || !m.platform.Supported() {
		m.set(models.StatusUnsupported)
		return models.StatusUnsupported
	}
	s := m.platform.Status()
	m.set(s)
	return s
}

// Status returns the last observed value without touching the platform.
func (m *Machine) Status() models.AuthorizationStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Notify feeds a status change pushed by a native callback.
func (m *Machine) Notify(s models.AuthorizationStatus) {
	m.set(s)
}

func (m *Machine) set(s models.AuthorizationStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s != models.StatusNotDetermined {
		// a later reset to NotDetermined in OS settings allows a new prompt
		m.requested = false
	}
	if s == m.last {
		return
	}
	m.log.Debug().Stringer("from", m.last).Stringer("to", s).Msg("authorization changed")
	m.last = s
	for _, ch := range m.listeners {
		select {
		case ch <- s:
		default:
		}
	}
}

// Request dispatches the OS prompt, at most once per NotDetermined state.
// It is a no-op when the status is already decided.
func (m *Machine) Request(ctx context.Context) error {
	if m.Check() != models.StatusNotDetermined {
		return nil
	}

	m.mu.Lock()
	if m.requested {
		m.mu.Unlock()
		return nil
	}
	m.requested = true
	dispatch := m.dispatch
	m.mu.Unlock()

	if !m.platform.RequiresUIThread() || dispatch == nil {
		if m.platform.RequiresUIThread() {
			m.log.Warn().Msg("no UI dispatcher registered, requesting authorization inline")
		}
		return errors.Wrap(m.platform.Request(), "request authorization")
	}

	done := make(chan error, 1)
	if !dispatch(func() { done <- m.platform.Request() }) {
		m.mu.Lock()
		m.requested = false
		m.mu.Unlock()
		return errors.New("request authorization: UI dispatcher rejected the call")
	}

	select {
	case err := <-done:
		return errors.Wrap(err, "request authorization")
	case <-ctx.Done():
		return errors.WithStack(ctx.Err())
	}
}

// Await blocks until the status leaves NotDetermined or timeout elapses. On
// timeout it returns the last status with ErrAuthorizationTimeout.
func (m *Machine) Await(ctx context.Context, timeout time.Duration) (models.AuthorizationStatus, error) {
	ch, cancel := m.subscribe()
	defer cancel()
	return m.await(ctx, ch, timeout)
}

// RequestAndAwait subscribes, sends the prompt, then waits for the answer.
func (m *Machine) RequestAndAwait(ctx context.Context, timeout time.Duration) (models.AuthorizationStatus, error) {
	ch, cancel := m.subscribe()
	defer cancel()

	if err := m.Request(ctx); err != nil {
		m.log.Warn().Err(err).Msg("authorization request failed")
	}
	return m.await(ctx, ch, timeout)
}

func (m *Machine) await(ctx context.Context, ch <-chan models.AuthorizationStatus, timeout time.Duration) (models.AuthorizationStatus, error) {
	if s := m.Check(); s != models.StatusNotDetermined {
		return s, nil
	}

	deadline := m.clock.After(timeout)
	ticker := m.clock.NewTicker(m.poll)
	defer ticker.Stop()

	for {
		select {
		case s := <-ch:
			if s != models.StatusNotDetermined {
				return s, nil
			}
		case <-ticker.Chan():
			if s := m.Check(); s != models.StatusNotDetermined {
				return s, nil
			}
		case <-deadline:
			s := m.Check()
			if s != models.StatusNotDetermined {
				return s, nil
			}
			return s, errors.ErrAuthorizationTimeout
		case <-ctx.Done():
			return m.Status(), errors.WithStack(ctx.Err())
		}
	}
}

func (m *Machine) subscribe() (<-chan models.AuthorizationStatus, func()) {
	ch := make(chan models.AuthorizationStatus, 1)
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = ch
	m.mu.Unlock()

	return ch, func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}
