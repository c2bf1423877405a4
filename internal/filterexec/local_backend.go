package filterexec

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// FilterFunc is a registered in-process filter implementation, used by
// LocalBackend in place of a container. Real deployments use DockerBackend;
// LocalBackend exists for unit tests and the `cmd/adiskd -fixture` mode
// where no container runtime is available. It returns the same raw output
// bytes a real filter binary would write to stdout.
type FilterFunc func(args []string, input []byte) (output []byte, err error)

// LocalBackend runs registered FilterFuncs directly in the host process.
// It still honors the Backend contract (Create/Scrub/Destroy/Run) so Pool's
// lifecycle code is exercised identically to the Docker path.
type LocalBackend struct {
	mu      sync.RWMutex
	filters map[string]FilterFunc
	nextID  int64
}

// NewLocalBackend creates an empty registry; use Register to add filters.
func NewLocalBackend() *LocalBackend {
	return &LocalBackend{filters: make(map[string]FilterFunc)}
}

// Register installs fn under name, replacing any existing registration.
func (b *LocalBackend) Register(name string, fn FilterFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.filters[name] = fn
}

func (b *LocalBackend) Create(context.Context) (*Sandbox, error) {
	id := atomic.AddInt64(&b.nextID, 1)
	return &Sandbox{ID: fmt.Sprintf("local-%d", id), LastUsed: time.Now()}, nil
}

func (b *LocalBackend) Scrub(context.Context, *Sandbox) error { return nil }

func (b *LocalBackend) Destroy(context.Context, *Sandbox) error { return nil }

func (b *LocalBackend) Run(ctx context.Context, _ *Sandbox, filterName string, args []string, input []byte) ([]byte, error) {
	b.mu.RLock()
	fn, ok := b.filters[filterName]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("filterexec: no local filter registered for %q", filterName)
	}
	return fn(args, input)
}
