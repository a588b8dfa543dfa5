package ports

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"
)

// ErrExhausted is returned when no port in the configured range is free.
var ErrExhausted = errors.New("ports: no free host port in range")

// Store reports host ports held by active containers and scale groups.
type Store interface {
	ActiveHostPorts(ctx context.Context) ([]int, error)
}

// Leaser coordinates port reservations across API replicas.
type Leaser interface {
	Acquire(ctx context.Context, port int, ttl time.Duration) (bool, error)
	Release(ctx context.Context, port int) error
	Close() error
}

// Options configures an Allocator.
type Options struct {
	Start    int
	End      int
	Reserved []int
	Lease    Leaser
	LeaseTTL time.Duration
	Logger   *slog.Logger
}

// Allocator hands out unused host ports.
type Allocator struct {
	mu       sync.Mutex
	store    Store
	start    int
	end      int
	reserved map[int]struct{}
	pending  map[int]struct{}
	lease    Leaser
	leaseTTL time.Duration
	logger   *slog.Logger
	probe    func(port int) bool
}

// New constructs an Allocator over [opts.Start, opts.End].
func New(store Store, opts Options) (*Allocator, error) {
	if store == nil {
		return nil, fmt.Errorf("port store is required")
	}
	if opts.Start <= 0 || opts.End > 65535 || opts.Start > opts.End {
		return nil, fmt.Errorf("invalid port range %d-%d", opts.Start, opts.End)
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = 2 * time.Minute
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reserved := make(map[int]struct{}, len(opts.Reserved))
	for _, p := range opts.Reserved {
		reserved[p] = struct{}{}
	}
	return &Allocator{
		store:    store,
		start:    opts.Start,
		end:      opts.End,
		reserved: reserved,
		pending:  map[int]struct{}{},
		lease:    opts.Lease,
		leaseTTL: opts.LeaseTTL,
		logger:   logger.With("component", "ports"),
		probe:    canBind,
	}, nil
}

// Allocate returns the lowest free port in range and leases it when a Leaser is
// configured. The port stays pending, and is never handed out again, until Release.
func (a *Allocator) Allocate(ctx context.Context) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	active, err := a.store.ActiveHostPorts(ctx)
	if err != nil {
		return 0, fmt.Errorf("load active ports: %w", err)
	}
	taken := make(map[int]struct{}, len(active))
	for _, p := range active {
		taken[p] = struct{}{}
	}
	for port := a.start; port <= a.end; port++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if _, ok := a.reserved[port]; ok {
			continue
		}
		if _, ok := taken[port]; ok {
			continue
		}
		if _, ok := a.pending[port]; ok {
			continue
		}
		if !a.probe(port) {
			continue
		}
		ok, err := a.acquire(ctx, port)
		if err != nil {
			return 0, err
		}
		if !ok {
			continue
		}
		a.pending[port] = struct{}{}
		a.logger.Debug("port allocated", "port", port)
		return port, nil
	}
	return 0, ErrExhausted
}

// Claim tries to take a specific port that the caller already owns in the store,
// typically the host port of a container being replaced.
func (a *Allocator) Claim(ctx context.Context, port int) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.reserved[port]; ok || port <= 0 {
		return false, nil
	}
	if _, ok := a.pending[port]; ok {
		return false, nil
	}
	if !a.probe(port) {
		return false, nil
	}
	ok, err := a.acquire(ctx, port)
	if ok {
		a.pending[port] = struct{}{}
	}
	return ok, err
}

// Release ends the hand-out of port once the caller has recorded it in the
// store or given up on it.
func (a *Allocator) Release(ctx context.Context, port int) {
	if port <= 0 {
		return
	}
	a.mu.Lock()
	delete(a.pending, port)
	a.mu.Unlock()
	if a.lease == nil {
		return
	}
	if err := a.lease.Release(ctx, port); err != nil {
		a.logger.Warn("port lease release failed", "port", port, "error", err)
	}
}

// InRange reports whether port lies in the allocator's range.
func (a *Allocator) InRange(port int) bool {
	return port >= a.start && port <= a.end
}

func (a *Allocator) acquire(ctx context.Context, port int) (bool, error) {
	if a.lease == nil {
		return true, nil
	}
	ok, err := a.lease.Acquire(ctx, port, a.leaseTTL)
	if err != nil {
		return false, fmt.Errorf("lease port %d: %w", port, err)
	}
	return ok, nil
}

func canBind(port int) bool {
	ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}
