package mcp

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/taskflow/workflowcore/graph"
	"github.com/taskflow/workflowcore/internal/backoff"
)

// PoolConfig collects the per-server connection pool settings enumerated in
// §4.10, with the spec's documented defaults.
type PoolConfig struct {
	MaxConnectionsPerServer int
	MinIdle                 int
	ConnectionTimeout       time.Duration
	IdleTimeout             time.Duration
	MaxLifetime             time.Duration
	RetryAttempts           int
	RetryDelay              time.Duration
	HealthCheckInterval     time.Duration
	LoadBalancing           func() LoadBalanceStrategy
	CircuitBreaker          graph.CircuitBreakerConfig
	Backoff                 backoff.Config
	EnableAutoReconnect     bool
}

// DefaultPoolConfig returns the pool defaults from §6.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxConnectionsPerServer: 10,
		MinIdle:                 1,
		ConnectionTimeout:       5 * time.Second,
		IdleTimeout:             600 * time.Second,
		MaxLifetime:             1800 * time.Second,
		RetryAttempts:           3,
		RetryDelay:              100 * time.Millisecond,
		HealthCheckInterval:     30 * time.Second,
		LoadBalancing:           func() LoadBalanceStrategy { return &RoundRobinStrategy{} },
		CircuitBreaker:          graph.DefaultCircuitBreakerConfig(),
		Backoff: backoff.Config{
			Initial:      100 * time.Millisecond,
			Max:          30 * time.Second,
			Multiplier:   2.0,
			JitterFactor: 0.1,
		},
		EnableAutoReconnect: true,
	}
}

// HealthStatus summarizes a server's pool health for health_check.
type HealthStatus string

// Health statuses.
const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// serverPool holds every live connection plus supporting state for one
// server identity. Interior-locked independently of its siblings so one
// server's contention never blocks another's (§7's sharded-lock note).
type serverPool struct {
	mu          sync.Mutex
	cfg         ServerConfig
	conns       []*MCPClient
	connectedAt map[*MCPClient]time.Time
	outstanding map[*MCPClient]int
	strategy    LoadBalanceStrategy
	breaker     *graph.CircuitBreaker
}

// ConnectionPool bounds and keeps warm the set of MCPClient connections to
// each registered MCP server, per §4.10.
type ConnectionPool struct {
	cfg     PoolConfig
	factory TransportFactory

	mu      sync.RWMutex
	servers map[string]*serverPool

	reconnectGroup singleflight.Group
}

// NewConnectionPool returns a pool that creates connections via factory.
func NewConnectionPool(factory TransportFactory, cfg PoolConfig) *ConnectionPool {
	return &ConnectionPool{
		cfg:     cfg,
		factory: factory,
		servers: make(map[string]*serverPool),
	}
}

// RegisterServer creates a logical pool entry for name, idempotently: a
// second call with the same name is a no-op, matching the spec's
// idempotency requirement.
func (p *ConnectionPool) RegisterServer(name string, transportCfg ServerConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.servers[name]; ok {
		return
	}
	p.servers[name] = &serverPool{
		cfg:         transportCfg,
		connectedAt: make(map[*MCPClient]time.Time),
		outstanding: make(map[*MCPClient]int),
		strategy:    p.cfg.LoadBalancing(),
		breaker:     graph.NewCircuitBreaker(name, p.cfg.CircuitBreaker),
	}
}

// PooledConnection is a borrowed MCPClient plus the handle used to return it.
type PooledConnection struct {
	Client *MCPClient
	pool   *ConnectionPool
	server string
}

// Release returns the connection to its pool: Idle if healthy, destroyed
// (disconnected and dropped) otherwise.
func (pc *PooledConnection) Release() {
	pc.pool.release(pc.server, pc.Client)
}

// GetConnection borrows a ready connection for name, applying the
// configured load-balancing strategy among healthy candidates, opening a
// fresh connection (up to MaxConnectionsPerServer) when none is idle, and
// failing fast if the server's circuit breaker is open.
func (p *ConnectionPool) GetConnection(ctx context.Context, name string) (*PooledConnection, error) {
	p.mu.RLock()
	sp, ok := p.servers[name]
	p.mu.RUnlock()
	if !ok {
		return nil, graph.ErrNodeNotFound(name)
	}

	if sp.breaker.State() == graph.BreakerOpen {
		return nil, graph.ErrCircuitOpen(name)
	}

	sp.mu.Lock()
	idle := p.pickIdleLocked(sp)
	if idle != nil {
		idle.MarkInUse()
		sp.outstanding[idle]++
		sp.mu.Unlock()
		return &PooledConnection{Client: idle, pool: p, server: name}, nil
	}
	if len(sp.conns) >= p.cfg.MaxConnectionsPerServer {
		sp.mu.Unlock()
		return nil, graph.NewWorkflowError(graph.KindTransient, graph.SeverityWarning, graph.CodeTransportDisconnect,
			"connection pool exhausted").WithContext("server", name)
	}
	sp.mu.Unlock()

	conn, err := p.connect(ctx, name, sp)
	if err != nil {
		_ = sp.breaker.Execute(ctx, func(context.Context) error { return err }) // records the failure against the breaker
		return nil, err
	}
	_ = sp.breaker.Execute(ctx, func(context.Context) error { return nil }) // records the success against the breaker

	sp.mu.Lock()
	sp.conns = append(sp.conns, conn)
	sp.connectedAt[conn] = time.Now()
	conn.MarkInUse()
	sp.outstanding[conn]++
	sp.mu.Unlock()

	return &PooledConnection{Client: conn, pool: p, server: name}, nil
}

// pickIdleLocked returns an idle, healthy connection chosen by the pool's
// load-balancing strategy, or nil if none is idle. Caller holds sp.mu.
func (p *ConnectionPool) pickIdleLocked(sp *serverPool) *MCPClient {
	var idle []*MCPClient
	for _, c := range sp.conns {
		if c.State() == StateIdle && c.IsHealthy() {
			idle = append(idle, c)
		}
	}
	if len(idle) == 0 {
		return nil
	}
	i := sp.strategy.Pick(idle)
	return idle[i]
}

// connect dials and initializes a brand-new connection for name, via a
// singleflight group so concurrent callers racing to grow the same
// exhausted-but-reconnecting pool coalesce into one dial.
func (p *ConnectionPool) connect(ctx context.Context, name string, sp *serverPool) (*MCPClient, error) {
	v, err, _ := p.reconnectGroup.Do(name+":connect", func() (any, error) {
		dialCtx, cancel := context.WithTimeout(ctx, p.cfg.ConnectionTimeout)
		defer cancel()

		transport, err := p.factory(dialCtx, sp.cfg)
		if err != nil {
			return nil, err
		}
		conn := NewMCPClient(name, transport)
		if err := conn.Initialize(dialCtx, sp.cfg.ClientName, sp.cfg.ClientVersion); err != nil {
			_ = transport.Close()
			return nil, err
		}
		return conn, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*MCPClient), nil
}

// release returns conn to its server's pool: to Idle if healthy and within
// MaxLifetime, destroyed otherwise. Per §9's resolution of the source's
// inconsistency, a connection past max_lifetime is allowed to finish its
// current use and is destroyed only on return, never terminated in place.
func (p *ConnectionPool) release(name string, conn *MCPClient) {
	p.mu.RLock()
	sp, ok := p.servers[name]
	p.mu.RUnlock()
	if !ok {
		return
	}

	sp.mu.Lock()
	if sp.outstanding[conn] > 0 {
		sp.outstanding[conn]--
	}
	expired := time.Since(sp.connectedAt[conn]) > p.cfg.MaxLifetime
	sp.mu.Unlock()

	if !conn.IsHealthy() || expired {
		p.destroy(name, conn)
		if p.cfg.EnableAutoReconnect {
			go p.reconnectWithBackoff(name)
		}
		return
	}
	conn.MarkIdle()
}

// destroy disconnects conn and removes it from its server's pool.
func (p *ConnectionPool) destroy(name string, conn *MCPClient) {
	p.mu.RLock()
	sp, ok := p.servers[name]
	p.mu.RUnlock()
	if !ok {
		return
	}

	sp.mu.Lock()
	for i, c := range sp.conns {
		if c == conn {
			sp.conns = append(sp.conns[:i], sp.conns[i+1:]...)
			break
		}
	}
	delete(sp.connectedAt, conn)
	delete(sp.outstanding, conn)
	sp.mu.Unlock()

	_ = conn.Disconnect()
}

// reconnectWithBackoff tops the pool for name back up to MinIdle, retrying
// with exponential backoff up to RetryAttempts. Each dial goes through
// connect's singleflight group, so concurrent reconnect loops for one server
// share an in-flight dial; the loops themselves are not coalesced, and every
// release of a broken connection starts its own.
func (p *ConnectionPool) reconnectWithBackoff(name string) {
	p.mu.RLock()
	sp, ok := p.servers[name]
	p.mu.RUnlock()
	if !ok {
		return
	}

	sp.mu.Lock()
	deficit := p.cfg.MinIdle - len(sp.conns)
	sp.mu.Unlock()
	if deficit <= 0 {
		return
	}

	for attempt := 0; attempt < p.cfg.RetryAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ConnectionTimeout)
		conn, err := p.connect(ctx, name, sp)
		cancel()
		if err == nil {
			sp.mu.Lock()
			sp.conns = append(sp.conns, conn)
			sp.connectedAt[conn] = time.Now()
			sp.mu.Unlock()
			conn.MarkIdle()
			return
		}
		time.Sleep(backoff.Delay(p.cfg.Backoff, attempt+1, nil))
	}
}

// HealthCheck classifies every registered server from the current state of
// its connections, without sending any request: Healthy (at least MinIdle
// usable connections, idle or in use), Degraded (some usable but below
// MinIdle), or Unhealthy (none usable, or circuit open).
func (p *ConnectionPool) HealthCheck() map[string]HealthStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[string]HealthStatus, len(p.servers))
	for name, sp := range p.servers {
		if sp.breaker.State() == graph.BreakerOpen {
			out[name] = HealthUnhealthy
			continue
		}
		sp.mu.Lock()
		ready := 0
		for _, c := range sp.conns {
			if c.IsHealthy() {
				ready++
			}
		}
		sp.mu.Unlock()
		switch {
		case ready == 0:
			out[name] = HealthUnhealthy
		case ready < p.cfg.MinIdle:
			out[name] = HealthDegraded
		default:
			out[name] = HealthHealthy
		}
	}
	return out
}

// CleanupExpired evicts idle connections across every server that have sat
// unused longer than IdleTimeout, returning the count evicted. It does not
// touch in-use connections; those are destroyed on Release if they have
// since gone unhealthy or exceeded MaxLifetime.
func (p *ConnectionPool) CleanupExpired() int {
	p.mu.RLock()
	names := make([]string, 0, len(p.servers))
	for name := range p.servers {
		names = append(names, name)
	}
	p.mu.RUnlock()

	count := 0
	for _, name := range names {
		p.mu.RLock()
		sp := p.servers[name]
		p.mu.RUnlock()

		sp.mu.Lock()
		var expired []*MCPClient
		for _, c := range sp.conns {
			if c.State() == StateIdle && c.IdleSince() > p.cfg.IdleTimeout {
				expired = append(expired, c)
			}
		}
		sp.mu.Unlock()

		for _, c := range expired {
			p.destroy(name, c)
			count++
		}
	}
	return count
}

// RunPeriodicMaintenance runs HealthCheck and CleanupExpired on
// HealthCheckInterval until ctx is canceled, matching §4.10's "cleanup_expired
// runs periodically on the health_check_interval".
func (p *ConnectionPool) RunPeriodicMaintenance(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.HealthCheck()
			p.CleanupExpired()
		}
	}
}

// Close disconnects every connection across every server.
func (p *ConnectionPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, sp := range p.servers {
		sp.mu.Lock()
		conns := sp.conns
		sp.conns = nil
		sp.mu.Unlock()
		for _, c := range conns {
			_ = c.Disconnect()
		}
	}
	return nil
}
