package location

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"sajda/internal/errors"
	"sajda/internal/models"
)

// Commands sent to an attached desktop host.
const (
	CommandRequestAuthorization = "request_authorization"
	CommandCurrentLocation      = "current_location"
)

const (
	hostQueueSize = 8
	// NativeBridge code for a permission the user has not answered yet
	codeNotDetermined = 2
)

var (
	ErrHostAttached   = errors.New("a host is already attached")
	ErrUnknownRequest = errors.New("unknown or expired location request")
)

// HostCommand is one instruction for the host. The host answers a
// current_location command by delivering a NativeResult under the same ID.
type HostCommand struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
}

// HostBridge is a NativeBridge backed by a desktop host process that owns
// the OS location APIs and talks to us over the loopback API.
type HostBridge struct {
	mu       sync.Mutex
	attached bool
	platform string
	uiThread bool
	code     int
	commands chan HostCommand
	pending  map[string]chan NativeResult
	onAuth   func(models.AuthorizationStatus)
}

func NewHostBridge() *HostBridge {
	return &HostBridge{
		code:    codeNotDetermined,
		pending: make(map[string]chan NativeResult),
	}
}

// OnAuthorization registers the callback for host-pushed permission changes.
func (b *HostBridge) OnAuthorization(fn func(models.AuthorizationStatus)) {
	b.mu.Lock()
	b.onAuth = fn
	b.mu.Unlock()
}

// Attach connects a host for the given platform. Commands arrive on the
// returned channel until detach is called; only one host at a time.
func (b *HostBridge) Attach(platform string) (<-chan HostCommand, func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.attached {
		return nil, nil, ErrHostAttached
	}
	ch := make(chan HostCommand, hostQueueSize)
	b.attached = true
	b.platform = platform
	// CoreLocation prompts only from the main thread
	b.uiThread = platform == "macos"
	b.code = codeNotDetermined
	b.commands = ch

	var once sync.Once
	return ch, func() { once.Do(func() { b.detach(ch) }) }, nil
}

func (b *HostBridge) detach(ch chan HostCommand) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.commands != ch {
		return
	}
	b.attached = false
	b.commands = nil
	close(ch)
	for id, w := range b.pending {
		w <- NativeResult{ErrorCode: 3, ErrorMessage: "host detached"}
		delete(b.pending, id)
	}
}

func (b *HostBridge) Attached() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attached
}

func (b *HostBridge) Platform() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.attached {
		return "host"
	}
	return b.platform
}

func (b *HostBridge) UIThread() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.uiThread
}

// SetAuthorization records the permission code the host read from the OS.
func (b *HostBridge) SetAuthorization(code int) {
	b.mu.Lock()
	b.code = code
	fn := b.onAuth
	b.mu.Unlock()

	if fn != nil {
		fn(models.StatusFromCode(code))
	}
}

// DeliverFix answers a pending current_location command.
func (b *HostBridge) DeliverFix(id string, res NativeResult) error {
	b.mu.Lock()
	w, ok := b.pending[id]
	delete(b.pending, id)
	b.mu.Unlock()

	if !ok {
		return errors.WithStack(ErrUnknownRequest)
	}
	w <- res
	return nil
}

// Dispatch marshals fn to the host's UI loop. The host performs queued
// commands on its main thread, so fn only needs a live host to enqueue to.
func (b *HostBridge) Dispatch(fn func()) bool {
	if !b.Attached() {
		return false
	}
	fn()
	return true
}

func (b *HostBridge) CheckAuthorization() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.code
}

func (b *HostBridge) RequestAuthorization() {
	b.send(HostCommand{ID: uuid.NewString(), Kind: CommandRequestAuthorization})
}

func (b *HostBridge) CurrentLocation(ctx context.Context) NativeResult {
	cmd := HostCommand{ID: uuid.NewString(), Kind: CommandCurrentLocation}
	w := make(chan NativeResult, 1)

	b.mu.Lock()
	if !b.attached {
		b.mu.Unlock()
		return NativeResult{ErrorCode: 4, ErrorMessage: "no host attached"}
	}
	b.pending[cmd.ID] = w
	b.mu.Unlock()

	if !b.send(cmd) {
		b.forget(cmd.ID)
		return NativeResult{ErrorCode: 3, ErrorMessage: "host command queue full"}
	}

	select {
	case res := <-w:
		return res
	case <-ctx.Done():
		b.forget(cmd.ID)
		return NativeResult{ErrorCode: 2, ErrorMessage: ctx.Err().Error()}
	}
}

func (b *HostBridge) send(cmd HostCommand) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return false
	}
	select {
	case b.commands <- cmd:
		return true
	default:
		return false
	}
}

func (b *HostBridge) forget(id string) {
	b.mu.Lock()
	delete(b.pending, id)
	b.mu.Unlock()
}

// NewHostProvider exposes the bridge as the native tier. It is supported
// only while a host is attached.
func NewHostProvider(b *HostBridge, clock clockwork.Clock) Provider {
	return &hostProvider{
		bridgeProvider: bridgeProvider{bridge: b, clock: clock},
		host:           b,
	}
}

type hostProvider struct {
	bridgeProvider
	host *HostBridge
}

func (p *hostProvider) Name() string           { return p.host.Platform() }
func (p *hostProvider) Supported() bool        { return p.host.Attached() }
func (p *hostProvider) RequiresUIThread() bool { return p.host.UIThread() }
