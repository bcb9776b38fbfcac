package console

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/LeonardoBeccarini/agos/internal/model"
	"github.com/LeonardoBeccarini/agos/internal/model/messages"
	"github.com/LeonardoBeccarini/agos/internal/services/hub"
)

type fakeConn struct {
	frames chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan []byte, 8), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case f, ok := <-c.frames:
		if !ok {
			return 0, nil, io.EOF
		}
		return 1, f, nil
	case <-c.closed:
		return 0, nil, net.ErrClosed
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

type dialResult struct {
	conn *fakeConn
	err  error
}

// scriptedDialer plays results in order, then refuses.
type scriptedDialer struct {
	mu      sync.Mutex
	script  []dialResult
	dials   int
	blockOn chan struct{} // se non nil, Dial attende finche' viene chiuso
}

func (d *scriptedDialer) Dial(ctx context.Context, _ string) (Conn, error) {
	if d.blockOn != nil {
		select {
		case <-d.blockOn:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if len(d.script) == 0 {
		return nil, errors.New("connection refused")
	}
	r := d.script[0]
	d.script = d.script[1:]
	if r.err != nil {
		return nil, r.err
	}
	return r.conn, nil
}

func (d *scriptedDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func frame(t *testing.T, seq uint64, level model.AlertLevel) []byte {
	t.Helper()
	b, err := json.Marshal(messages.NewTelemetryEnvelope(model.TelemetryUpdate{Seq: seq, Level: level, Unit: "in"}))
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestPolicyBackOffSchedule(t *testing.T) {
	p := Policy{BaseDelay: 10 * time.Millisecond, MaxDelay: 40 * time.Millisecond, MaxAttempts: 5}
	ctx, cancel := context.WithCancel(context.Background())
	b := p.backOff(ctx)

	want := []time.Duration{10, 20, 40, 40, 40}
	for idx, w := range want {
		if got := b.NextBackOff(); got != w*time.Millisecond {
			t.Fatalf("delay %d = %s, want %s", idx, got, w*time.Millisecond)
		}
	}
	cancel()
	if got := b.NextBackOff(); got != backoff.Stop {
		t.Fatalf("expected Stop once the context is done, got %s", got)
	}
}

func TestPolicyDefaults(t *testing.T) {
	p := Policy{MaxDelay: time.Millisecond}.normalized()
	if p.BaseDelay != time.Second || p.MaxDelay != time.Second || p.MaxAttempts != 8 {
		t.Fatalf("unexpected normalized policy: %+v", p)
	}
}

func TestGivesUpAfterMaxAttempts(t *testing.T) {
	d := &scriptedDialer{}
	c := New("ws://x/ws", d, Policy{BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, MaxAttempts: 3})

	err := c.Run(context.Background())
	if !errors.Is(err, ErrGaveUp) {
		t.Fatalf("expected ErrGaveUp, got %v", err)
	}
	if d.count() != 3 {
		t.Fatalf("expected 3 dials, got %d", d.count())
	}
	if c.State() != StateGaveUp || c.View().Phase != PhaseGaveUp {
		t.Fatalf("state %s, phase %q", c.State(), c.View().Phase)
	}
}

func TestSecondRunRejectedWhileConnecting(t *testing.T) {
	d := &scriptedDialer{blockOn: make(chan struct{})}
	c := New("ws://x/ws", d, Policy{BaseDelay: time.Millisecond, MaxAttempts: 1})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	waitFor(t, "connecting", func() bool { return c.State() == StateConnecting })

	if err := c.Run(ctx); !errors.Is(err, ErrConnectInProgress) {
		t.Fatalf("expected ErrConnectInProgress, got %v", err)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if d.count() != 0 {
		t.Fatalf("blocked dial must not complete, got %d", d.count())
	}
}

func TestReconnectMarksDataStale(t *testing.T) {
	c1, c2 := newFakeConn(), newFakeConn()
	d := &scriptedDialer{script: []dialResult{
		{conn: c1},
		{err: errors.New("refused")},
		{conn: c2},
	}}
	var (
		mu     sync.Mutex
		states []State
	)
	c := New("ws://x/ws", d, Policy{BaseDelay: 50 * time.Millisecond, MaxDelay: 100 * time.Millisecond, MaxAttempts: 4},
		WithStateHook(func(s State) {
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
		}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	waitFor(t, "first connection", func() bool { return c.State() == StateConnected })
	if v := c.View(); v.Phase != PhaseWaiting || v.Latest != nil {
		t.Fatalf("before any frame: %+v", v)
	}

	c1.frames <- frame(t, 1, model.LevelWatch)
	select {
	case u := <-c.Updates():
		if u.Seq != 1 || u.Level != model.LevelWatch {
			t.Fatalf("update = %+v", u)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no update")
	}
	if v := c.View(); v.Phase != PhaseLive || v.Stale {
		t.Fatalf("after frame: %+v", v)
	}

	close(c1.frames) // il server chiude
	waitFor(t, "retrying view", func() bool {
		v := c.View()
		return v.Phase == PhaseRetrying && v.Stale && v.Latest != nil && v.Latest.Seq == 1
	})

	waitFor(t, "reconnection", func() bool { return c.State() == StateConnected && d.count() == 3 })
	if v := c.View(); v.Phase != PhaseWaiting || !v.Stale {
		t.Fatalf("reconnected without fresh data must not be live: %+v", v)
	}
	c2.frames <- frame(t, 2, model.LevelNormal)
	waitFor(t, "live again", func() bool { return c.View().Phase == PhaseLive })

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []State{StateConnecting, StateConnected, StateDisconnected, StateConnecting, StateConnected, StateDisconnected}
	if len(states) != len(want) {
		t.Fatalf("states = %v, want %v", states, want)
	}
	for idx := range want {
		if states[idx] != want[idx] {
			t.Fatalf("states = %v, want %v", states, want)
		}
	}
}

// droppingConn plays its frames, then reports the server hanging up.
type droppingConn struct {
	mu     sync.Mutex
	frames [][]byte
}

func (c *droppingConn) ReadMessage() (int, []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.frames) == 0 {
		return 0, nil, io.EOF
	}
	f := c.frames[0]
	c.frames = c.frames[1:]
	return 1, f, nil
}

func (c *droppingConn) Close() error { return nil }

// acceptingDialer always succeeds and records when each dial happened.
type acceptingDialer struct {
	mu    sync.Mutex
	at    []time.Time
	frame []byte // se non nil, ogni connessione consegna un frame prima di chiudersi
}

func (d *acceptingDialer) Dial(context.Context, string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.at = append(d.at, time.Now())
	c := &droppingConn{}
	if d.frame != nil {
		c.frames = [][]byte{d.frame}
	}
	return c, nil
}

func (d *acceptingDialer) dials() []time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]time.Time(nil), d.at...)
}

func TestServerHangingUpAtOnceExhaustsAttempts(t *testing.T) {
	d := &acceptingDialer{}
	p := Policy{BaseDelay: 20 * time.Millisecond, MaxDelay: 100 * time.Millisecond, MaxAttempts: 3}
	c := New("ws://x/ws", d, p)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := c.Run(ctx)
	if !errors.Is(err, ErrGaveUp) {
		t.Fatalf("expected ErrGaveUp, got %v", err)
	}
	if c.State() != StateGaveUp {
		t.Fatalf("state %s", c.State())
	}

	at := d.dials()
	if len(at) != p.MaxAttempts {
		t.Fatalf("expected %d dials, got %d", p.MaxAttempts, len(at))
	}
	for idx, want := range []time.Duration{20 * time.Millisecond, 40 * time.Millisecond} {
		if gap := at[idx+1].Sub(at[idx]); gap < want {
			t.Fatalf("dial %d came %s after the previous one, want at least %s", idx+2, gap, want)
		}
	}
}

func TestRedialWaitsAfterDrop(t *testing.T) {
	d := &acceptingDialer{frame: frame(t, 1, model.LevelNormal)}
	p := Policy{BaseDelay: 40 * time.Millisecond, MaxDelay: 40 * time.Millisecond, MaxAttempts: 2}
	c := New("ws://x/ws", d, p)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	// ogni connessione consegna un frame: ogni caduta apre un nuovo budget
	if err := c.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected the client to keep reconnecting until the deadline, got %v", err)
	}

	at := d.dials()
	if len(at) <= p.MaxAttempts {
		t.Fatalf("expected more than %d dials across separate outages, got %d", p.MaxAttempts, len(at))
	}
	if len(at) > 13 {
		t.Fatalf("redials are not spaced out: %d dials in 500ms", len(at))
	}
	for idx := 1; idx < len(at); idx++ {
		if gap := at[idx].Sub(at[idx-1]); gap < p.BaseDelay {
			t.Fatalf("dial %d came %s after the previous one, want at least %s", idx+1, gap, p.BaseDelay)
		}
	}
}

func TestWebsocketAgainstHub(t *testing.T) {
	h := hub.New(hub.Config{})
	defer h.Close()
	h.Publish(model.TelemetryUpdate{Seq: 7, Level: model.LevelAdvisory, Unit: "in"})

	srv := httptest.NewServer(hub.NewHandler(h, func(*http.Request) bool { return true }))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	c := New(url, WSDialer{}, Policy{BaseDelay: 10 * time.Millisecond, MaxAttempts: 2})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	select {
	case u := <-c.Updates():
		if u.Seq != 7 || u.Level != model.LevelAdvisory {
			t.Fatalf("late-join update = %+v", u)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no update from hub")
	}
	if v := c.View(); v.Phase != PhaseLive {
		t.Fatalf("phase %q", v.Phase)
	}
}
