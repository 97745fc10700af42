package connection

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/jeremyhahn/go-trusted-relay/pkg/logging"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultMinConnections = 1
	DefaultMaxConnections = 15
)

var (
	ErrPoolClosed = errors.New("connection: pool closed")
)

// Factory creates a new, unconnected Connection
type Factory func() *Connection

type PoolParams struct {
	Logger         *logging.Logger
	MinConnections int
	MaxConnections int
	Factory        Factory
}

// Pool lends Connections to a single remote authority. At most
// MaxConnections are lent at any time; Borrow blocks until one is
// returned. Idle connections keep their sessions open for reuse.
type Pool struct {
	logger  *logging.Logger
	factory Factory
	min     int
	max     int
	sem     *semaphore.Weighted

	mu     sync.Mutex
	idle   []*Connection
	inUse  int
	closed bool
}

// Creates a new pool holding MinConnections idle connections. Sessions
// are established on first use.
func NewPool(params *PoolParams) *Pool {
	minConns, maxConns := params.MinConnections, params.MaxConnections
	if maxConns <= 0 {
		maxConns = DefaultMaxConnections
	}
	if minConns <= 0 {
		minConns = DefaultMinConnections
	}
	if minConns > maxConns {
		minConns = maxConns
	}
	pool := &Pool{
		logger:  params.Logger,
		factory: params.Factory,
		min:     minConns,
		max:     maxConns,
		sem:     semaphore.NewWeighted(int64(maxConns)),
		idle:    make([]*Connection, 0, maxConns),
	}
	for i := 0; i < minConns; i++ {
		pool.idle = append(pool.idle, params.Factory())
	}
	pool.logger.Debug("connection: pool created",
		slog.Int("min", minConns),
		slog.Int("max", maxConns))
	return pool
}

// Lends a connection to the caller, blocking while MaxConnections are
// already lent. The caller must Return the connection, typically with
// defer, on every exit path.
func (p *Pool) Borrow(ctx context.Context) (*Connection, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.sem.Release(1)
		return nil, ErrPoolClosed
	}
	p.inUse++
	if n := len(p.idle); n > 0 {
		conn := p.idle[n-1]
		p.idle = p.idle[:n-1]
		return conn, nil
	}
	return p.factory(), nil
}

// Returns a borrowed connection to the pool
func (p *Pool) Return(conn *Connection) {
	if conn == nil {
		return
	}
	p.mu.Lock()
	p.inUse--
	if p.closed {
		p.mu.Unlock()
		conn.Close()
	} else {
		p.idle = append(p.idle, conn)
		p.mu.Unlock()
	}
	p.sem.Release(1)
}

// Returns the number of connections currently lent out
func (p *Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inUse
}

// Returns the number of idle connections held by the pool
func (p *Pool) Idle() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

func (p *Pool) Max() int {
	return p.max
}

func (p *Pool) Min() int {
	return p.min
}

// Closes all idle connections. Connections still lent out are closed
// when they are returned.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	for _, conn := range p.idle {
		if err := conn.Close(); err != nil {
			p.logger.MaybeError(err)
		}
	}
	p.idle = nil
}
