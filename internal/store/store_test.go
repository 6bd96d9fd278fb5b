package store

import (
	"path/filepath"
	"reflect"
	"sync"
	"testing"

	"github.com/mmcdole/offgrid/internal/domain"
)

func openStores(t *testing.T) map[string]domain.KeyValueStore {
	t.Helper()

	bolt, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	mem, err := Open("")
	if err != nil {
		t.Fatalf("Open memory: %v", err)
	}
	lite, err := OpenSQLite(filepath.Join(t.TempDir(), "kv.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}

	stores := map[string]domain.KeyValueStore{"bolt": bolt, "memory": mem, "sqlite": lite}
	t.Cleanup(func() {
		for _, s := range stores {
			s.Close()
		}
	})
	return stores
}

func TestKeyValueStore_Contract(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			if _, ok, err := s.Get("box", "missing"); err != nil || ok {
				t.Fatalf("Get(missing) = ok %v, err %v", ok, err)
			}

			for _, k := range []string{"b", "c", "a"} {
				if err := s.Put("box", k, "v-"+k); err != nil {
					t.Fatalf("Put(%s): %v", k, err)
				}
			}
			if err := s.Put("other", "a", "x"); err != nil {
				t.Fatalf("Put(other): %v", err)
			}

			v, ok, err := s.Get("box", "a")
			if err != nil || !ok || v != "v-a" {
				t.Fatalf("Get(a) = %q, %v, %v", v, ok, err)
			}

			if err := s.Put("box", "a", "v-a2"); err != nil {
				t.Fatalf("overwrite: %v", err)
			}
			if v, _, _ := s.Get("box", "a"); v != "v-a2" {
				t.Errorf("Get after overwrite = %q", v)
			}

			keys, err := s.Keys("box")
			if err != nil {
				t.Fatalf("Keys: %v", err)
			}
			if want := []string{"a", "b", "c"}; !reflect.DeepEqual(keys, want) {
				t.Errorf("Keys = %v, want %v", keys, want)
			}

			if err := s.Delete("box", "b"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if _, ok, _ := s.Get("box", "b"); ok {
				t.Error("deleted key still present")
			}

			if err := s.Clear("box"); err != nil {
				t.Fatalf("Clear: %v", err)
			}
			keys, _ = s.Keys("box")
			if len(keys) != 0 {
				t.Errorf("Keys after Clear = %v", keys)
			}
			if v, ok, _ := s.Get("other", "a"); !ok || v != "x" {
				t.Error("Clear leaked into another box")
			}
		})
	}
}

func TestKeyValueStore_ConcurrentWrites(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					key := string(rune('a' + i))
					if err := s.Put("box", key, key); err != nil {
						t.Errorf("Put: %v", err)
					}
				}(i)
			}
			wg.Wait()

			keys, err := s.Keys("box")
			if err != nil {
				t.Fatalf("Keys: %v", err)
			}
			if len(keys) != 20 {
				t.Errorf("got %d keys, want 20", len(keys))
			}
		})
	}
}

func TestBoltStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Put("box", "k", "v"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	s.Close()

	s, err = Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	if v, ok, err := s.Get("box", "k"); err != nil || !ok || v != "v" {
		t.Errorf("Get after reopen = %q, %v, %v", v, ok, err)
	}
}

func TestBoltStore_ClearRemovesEveryKey(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	for i := 0; i < 100; i++ {
		if err := s.Put("box", string(rune('A'+i)), "v"); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	if err := s.Clear("box"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	keys, _ := s.Keys("box")
	if len(keys) != 0 {
		t.Errorf("%d keys survived Clear", len(keys))
	}
}
