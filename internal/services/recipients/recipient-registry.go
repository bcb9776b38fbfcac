package recipients

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/LeonardoBeccarini/agos/internal/model/entities"
)

var (
	ErrInvalidFormat = errors.New("recipients: invalid phone number format")
	ErrDuplicate     = errors.New("recipients: number already registered")
	ErrNotFound      = errors.New("recipients: number not registered")
)

// Registry is the ordered, duplicate-free list of SMS recipients.
// Mutations are serialized and persisted before the in-memory list changes.
type Registry struct {
	mu      sync.RWMutex
	store   Store
	numbers []string
}

// Open loads the persisted list. Invalid or duplicated entries found on disk are skipped.
func Open(store Store) (*Registry, error) {
	loaded, err := store.Load()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(loaded))
	numbers := make([]string, 0, len(loaded))
	for _, n := range loaded {
		n = strings.TrimSpace(n)
		if !entities.ValidPhoneNumber(n) || seen[n] {
			log.Printf("recipients: skipping stored entry %q", n)
			continue
		}
		seen[n] = true
		numbers = append(numbers, n)
	}
	return &Registry{store: store, numbers: numbers}, nil
}

// List returns the numbers in insertion order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string{}, r.numbers...)
}

func (r *Registry) Add(number string) error {
	number = strings.TrimSpace(number)
	if !entities.ValidPhoneNumber(number) {
		return fmt.Errorf("%w: %q", ErrInvalidFormat, number)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.indexLocked(number) >= 0 {
		return fmt.Errorf("%w: %s", ErrDuplicate, number)
	}
	next := make([]string, 0, len(r.numbers)+1)
	next = append(next, r.numbers...)
	next = append(next, number)
	if err := r.store.Save(next); err != nil {
		return fmt.Errorf("recipients: persist: %w", err)
	}
	r.numbers = next
	return nil
}

func (r *Registry) Remove(number string) error {
	number = strings.TrimSpace(number)

	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexLocked(number)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, number)
	}
	next := make([]string, 0, len(r.numbers)-1)
	next = append(next, r.numbers[:i]...)
	next = append(next, r.numbers[i+1:]...)
	if err := r.store.Save(next); err != nil {
		return fmt.Errorf("recipients: persist: %w", err)
	}
	r.numbers = next
	return nil
}

func (r *Registry) indexLocked(number string) int {
	for i, n := range r.numbers {
		if n == number {
			return i
		}
	}
	return -1
}
