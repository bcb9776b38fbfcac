package console

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/LeonardoBeccarini/agos/internal/model"
	"github.com/LeonardoBeccarini/agos/internal/model/messages"
)

var (
	// ErrGaveUp is returned once an outage has used up every reconnect attempt.
	ErrGaveUp = errors.New("console: gave up reconnecting")
	// ErrConnectInProgress guards the one-live-subscription-per-console rule.
	ErrConnectInProgress = errors.New("console: connection already active or pending")
)

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateGaveUp
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateGaveUp:
		return "GAVE_UP"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Policy bounds reconnection: delays double from BaseDelay up to MaxDelay,
// at most MaxAttempts dials per outage.
type Policy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

func DefaultPolicy() Policy {
	return Policy{BaseDelay: time.Second, MaxDelay: 30 * time.Second, MaxAttempts: 8}
}

func (p Policy) normalized() Policy {
	d := DefaultPolicy()
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	return p
}

// backOff is deterministic (no jitter): Base, 2*Base, ... capped at Max, until ctx ends.
// The attempt bound is enforced per outage by the client, not here.
func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.BaseDelay
	bo.MaxInterval = p.MaxDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	bo.Reset()
	return backoff.WithContext(bo, ctx)
}

// outage spans from a lost link (or the first connect) until a connection
// delivers a frame. A connection that drops before any frame does not end it,
// so a server that accepts and hangs up at once still exhausts the budget.
type outage struct {
	bo      backoff.BackOff
	dials   int
	wait    bool // attende BaseDelay anche prima del primo dial
	lastErr error
}

func (c *Client) newOutage(ctx context.Context, wait bool) *outage {
	return &outage{bo: c.policy.backOff(ctx), wait: wait}
}

// Conn is the read side of a console connection.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// Client keeps one subscription to the coordinator hub alive and tracks the last update.
type Client struct {
	url    string
	dialer Dialer
	policy Policy

	state  atomic.Int32
	active atomic.Bool // Run in corso (connessione o tentativi)

	mu      sync.Mutex
	latest  *model.TelemetryUpdate
	stale   bool
	attempt int

	updates chan model.TelemetryUpdate
	onState func(State)
}

type Option func(*Client)

// WithStateHook is called on every state transition.
func WithStateHook(fn func(State)) Option { return func(c *Client) { c.onState = fn } }

func New(url string, dialer Dialer, policy Policy, opts ...Option) *Client {
	c := &Client{
		url:     url,
		dialer:  dialer,
		policy:  policy.normalized(),
		updates: make(chan model.TelemetryUpdate, 32),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) State() State { return State(c.state.Load()) }

// Updates delivers live updates; when the reader falls behind newer ones are dropped.
func (c *Client) Updates() <-chan model.TelemetryUpdate { return c.updates }

func (c *Client) setState(s State) {
	if State(c.state.Swap(int32(s))) != s && c.onState != nil {
		c.onState(s)
	}
}

// Run connects and stays subscribed until ctx is cancelled or an outage exhausts
// the policy (ErrGaveUp). A second concurrent Run fails with ErrConnectInProgress.
func (c *Client) Run(ctx context.Context) error {
	if !c.active.CompareAndSwap(false, true) {
		return ErrConnectInProgress
	}
	defer c.active.Store(false)

	o := c.newOutage(ctx, false)
	for {
		conn, err := c.connect(ctx, o)
		if err != nil {
			return err
		}
		frames, err := c.readLoop(ctx, conn)
		c.markDisconnected()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Printf("console: connection lost after %d frame(s): %v", frames, err)
		if frames > 0 {
			o = c.newOutage(ctx, true)
		}
		o.lastErr = err
	}
}

func (c *Client) connect(ctx context.Context, o *outage) (Conn, error) {
	c.setState(StateConnecting)
	for {
		if o.dials >= c.policy.MaxAttempts {
			c.setState(StateGaveUp)
			return nil, fmt.Errorf("%w after %d attempts: %v", ErrGaveUp, o.dials, o.lastErr)
		}
		if o.dials > 0 || o.wait {
			next := o.bo.NextBackOff()
			if next == backoff.Stop {
				return nil, c.stopped(ctx)
			}
			log.Printf("console: redialing %s in %s (attempt %d/%d)", c.url, next, o.dials+1, c.policy.MaxAttempts)
			if err := sleep(ctx, next); err != nil {
				return nil, c.stopped(ctx)
			}
		}

		o.dials++
		c.mu.Lock()
		c.attempt = o.dials
		c.mu.Unlock()

		conn, err := c.dialer.Dial(ctx, c.url)
		if err == nil {
			c.mu.Lock()
			c.attempt = 0
			c.mu.Unlock()
			c.setState(StateConnected)
			return conn, nil
		}
		if ctx.Err() != nil {
			return nil, c.stopped(ctx)
		}
		o.lastErr = err
		log.Printf("console: dial %s failed (attempt %d/%d): %v", c.url, o.dials, c.policy.MaxAttempts, err)
	}
}

func (c *Client) stopped(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		c.setState(StateDisconnected)
		return err
	}
	c.setState(StateGaveUp)
	return ErrGaveUp
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// readLoop returns how many updates arrived before the connection ended.
func (c *Client) readLoop(ctx context.Context, conn Conn) (int, error) {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()
	defer conn.Close()

	frames := 0
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return frames, err
		}
		var env messages.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Printf("console: bad frame: %v", err)
			continue
		}
		if env.Type != messages.TypeTelemetryUpdate {
			continue
		}
		c.accept(env.Data)
		frames++
	}
}

func (c *Client) accept(u model.TelemetryUpdate) {
	c.mu.Lock()
	if c.latest != nil && u.Seq > c.latest.Seq+1 {
		log.Printf("console: missed %d update(s) before seq %d", u.Seq-c.latest.Seq-1, u.Seq)
	}
	c.latest = &u
	c.stale = false
	c.mu.Unlock()

	select {
	case c.updates <- u:
	default:
	}
}

func (c *Client) markDisconnected() {
	c.mu.Lock()
	if c.latest != nil {
		c.stale = true
	}
	c.mu.Unlock()
	c.setState(StateDisconnected)
}

// Phase is what the operator should be shown.
type Phase string

const (
	PhaseWaiting  Phase = "connected, no data yet"
	PhaseLive     Phase = "connected, live"
	PhaseRetrying Phase = "disconnected, retrying"
	PhaseGaveUp   Phase = "disconnected, gave up"
)

type View struct {
	Phase   Phase
	State   State
	Latest  *model.TelemetryUpdate
	Stale   bool // Latest e' l'ultimo dato ricevuto prima della disconnessione
	Attempt int
}

// View never presents data as live unless the subscription is up and a frame
// arrived on it; data from before a disconnection stays Stale.
func (c *Client) View() View {
	st := c.State()
	c.mu.Lock()
	defer c.mu.Unlock()

	v := View{State: st, Attempt: c.attempt, Stale: c.stale}
	if c.latest != nil {
		u := *c.latest
		v.Latest = &u
	}
	switch {
	case st == StateConnected && (v.Latest == nil || v.Stale):
		v.Phase = PhaseWaiting
	case st == StateConnected:
		v.Phase = PhaseLive
	case st == StateGaveUp:
		v.Phase = PhaseGaveUp
	default:
		v.Phase = PhaseRetrying
	}
	return v
}
