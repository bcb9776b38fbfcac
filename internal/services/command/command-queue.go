package command

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/LeonardoBeccarini/agos/internal/model"
	"github.com/LeonardoBeccarini/agos/internal/model/entities"
)

var (
	ErrUnauthenticated = errors.New("command: operator not authenticated")
	ErrNoRecipients    = errors.New("command: recipients must not be empty")
	ErrInvalidKind     = errors.New("command: invalid kind")
	ErrInvalidNumber   = errors.New("command: invalid recipient number")
)

// Observer riceve gli eventi del ciclo di vita del comando (metriche).
type Observer interface {
	CommandEnqueued(kind model.CommandKind, replaced bool)
	CommandConsumed(kind model.CommandKind)
	CommandExpired(kind model.CommandKind)
}

type nopObserver struct{}

func (nopObserver) CommandEnqueued(model.CommandKind, bool) {}
func (nopObserver) CommandConsumed(model.CommandKind)       {}
func (nopObserver) CommandExpired(model.CommandKind)        {}

// Queue is a single-slot command buffer: a new command always replaces the pending one,
// and a poll hands the command to exactly one caller.
type Queue struct {
	mu   sync.Mutex
	slot *model.PendingCommand

	now   func() time.Time
	newID func() string
	obs   Observer
}

type Option func(*Queue)

// WithClock sostituisce time.Now (test).
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

func WithObserver(o Observer) Option {
	return func(q *Queue) {
		if o != nil {
			q.obs = o
		}
	}
}

func NewQueue(opts ...Option) *Queue {
	q := &Queue{
		now:   time.Now,
		newID: func() string { return uuid.New().String() },
		obs:   nopObserver{},
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Enqueue replaces any pending command with a new one expiring after ttl.
// issuedBy must be an identity already authenticated by the caller.
func (q *Queue) Enqueue(kind model.CommandKind, issuedBy string, recipients []string, ttl time.Duration) (model.PendingCommand, error) {
	issuedBy = strings.TrimSpace(issuedBy)
	if issuedBy == "" {
		return model.PendingCommand{}, ErrUnauthenticated
	}
	if !kind.Valid() {
		return model.PendingCommand{}, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
	if len(recipients) == 0 {
		return model.PendingCommand{}, ErrNoRecipients
	}
	snapshot := make([]string, len(recipients))
	for i, r := range recipients {
		if !entities.ValidPhoneNumber(r) {
			return model.PendingCommand{}, fmt.Errorf("%w: %q", ErrInvalidNumber, r)
		}
		snapshot[i] = r
	}
	if ttl < 0 {
		ttl = 0
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now().UTC()
	cmd := model.PendingCommand{
		ID:         q.newID(),
		Kind:       kind,
		IssuedBy:   issuedBy,
		IssuedAt:   now,
		Recipients: snapshot,
		ExpiresAt:  now.Add(ttl),
	}
	replaced := q.slot != nil
	q.slot = &cmd
	q.obs.CommandEnqueued(kind, replaced)
	return clone(cmd), nil
}

// PollAndConsume takes the pending command out of the slot.
// An expired command is dropped and reported as "nothing pending".
func (q *Queue) PollAndConsume() (model.PendingCommand, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.slot == nil {
		return model.PendingCommand{}, false
	}
	cmd := *q.slot
	q.slot = nil
	if cmd.Expired(q.now()) {
		q.obs.CommandExpired(cmd.Kind)
		return model.PendingCommand{}, false
	}
	q.obs.CommandConsumed(cmd.Kind)
	return clone(cmd), true
}

// Peek returns the pending command without consuming it.
func (q *Queue) Peek() (model.PendingCommand, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.slot == nil || q.slot.Expired(q.now()) {
		return model.PendingCommand{}, false
	}
	return clone(*q.slot), true
}

func clone(c model.PendingCommand) model.PendingCommand {
	c.Recipients = append([]string(nil), c.Recipients...)
	return c
}
