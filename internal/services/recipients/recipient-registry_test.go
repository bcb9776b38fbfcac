package recipients

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func openTemp(t *testing.T) (*Registry, *FileStore) {
	t.Helper()
	store, err := NewFileStore(filepath.Join(t.TempDir(), "data", "recipients.json"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	reg, err := Open(store)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return reg, store
}

func TestAddThenListAndDuplicate(t *testing.T) {
	reg, _ := openTemp(t)

	if err := reg.Add("+639171234567"); err != nil {
		t.Fatalf("add: %v", err)
	}
	list := reg.List()
	if len(list) != 1 || list[0] != "+639171234567" {
		t.Fatalf("unexpected list %v", list)
	}
	if err := reg.Add("+639171234567"); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if len(reg.List()) != 1 {
		t.Fatalf("duplicate add must not change the registry")
	}
}

func TestAddInvalidFormat(t *testing.T) {
	reg, store := openTemp(t)

	for _, n := range []string{"12345", "+12", "+63 917 123 4567", ""} {
		if err := reg.Add(n); !errors.Is(err, ErrInvalidFormat) {
			t.Fatalf("Add(%q): expected ErrInvalidFormat, got %v", n, err)
		}
	}
	if len(reg.List()) != 0 {
		t.Fatalf("registry must be unchanged")
	}
	if _, err := os.Stat(store.Path()); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("nothing should have been persisted, stat err=%v", err)
	}
}

func TestRemove(t *testing.T) {
	reg, _ := openTemp(t)
	for _, n := range []string{"+111111111", "+222222222", "+333333333"} {
		if err := reg.Add(n); err != nil {
			t.Fatalf("add %s: %v", n, err)
		}
	}
	if err := reg.Remove("+222222222"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if got := reg.List(); len(got) != 2 || got[0] != "+111111111" || got[1] != "+333333333" {
		t.Fatalf("insertion order not preserved: %v", got)
	}
	if err := reg.Remove("+222222222"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPersistenceAcrossRestart(t *testing.T) {
	reg, store := openTemp(t)
	_ = reg.Add("+639171234567")
	_ = reg.Add("+639181112222")
	_ = reg.Remove("+639171234567")

	raw, err := os.ReadFile(store.Path())
	if err != nil {
		t.Fatalf("read store: %v", err)
	}
	if want := "{\n  \"recipients\": [\n    \"+639181112222\"\n  ]\n}\n"; string(raw) != want {
		t.Fatalf("unexpected durable form:\n%s", raw)
	}

	reopened, err := Open(store)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if got := reopened.List(); len(got) != 1 || got[0] != "+639181112222" {
		t.Fatalf("unexpected list after restart: %v", got)
	}

	entries, _ := os.ReadDir(filepath.Dir(store.Path()))
	if len(entries) != 1 {
		t.Fatalf("temporary files left behind: %v", entries)
	}
}

func TestOpenSkipsInvalidStoredEntries(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "recipients.json")
	data := `{"recipients": ["+639171234567", "bogus", "+639171234567", "+4915112345678"]}`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	store, _ := NewFileStore(path)
	reg, err := Open(store)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if got := reg.List(); len(got) != 2 || got[1] != "+4915112345678" {
		t.Fatalf("unexpected list %v", got)
	}
}

type failingStore struct{}

func (f *failingStore) Load() ([]string, error) { return []string{"+111111111"}, nil }
func (f *failingStore) Save([]string) error     { return errors.New("disk full") }

func TestFailedWriteLeavesRegistryUnchanged(t *testing.T) {
	reg, err := Open(&failingStore{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := reg.Add("+222222222"); err == nil {
		t.Fatalf("expected persist error")
	}
	if err := reg.Remove("+111111111"); err == nil {
		t.Fatalf("expected persist error")
	}
	if got := reg.List(); len(got) != 1 || got[0] != "+111111111" {
		t.Fatalf("registry changed after failed write: %v", got)
	}
}

func TestConcurrentMutationsAreSerialized(t *testing.T) {
	reg, store := openTemp(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			n := fmt.Sprintf("+1555000%04d", i)
			if err := reg.Add(n); err != nil {
				t.Errorf("add %s: %v", n, err)
				return
			}
			if i%2 == 0 {
				if err := reg.Remove(n); err != nil {
					t.Errorf("remove %s: %v", n, err)
				}
			}
		}(i)
	}
	wg.Wait()

	if got := len(reg.List()); got != 10 {
		t.Fatalf("expected 10 recipients, got %d", got)
	}
	persisted, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(persisted) != 10 {
		t.Fatalf("durable store diverged from memory: %d entries", len(persisted))
	}
}
