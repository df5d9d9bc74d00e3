package storage

import (
	"bytes"
	"fmt"
	"os"
	"testing"
)

// newTestStorage creates a temporary storage for testing.
func newTestStorage(t *testing.T) *Storage {
	t.Helper()

	dir, err := os.MkdirTemp("", "storage_test_*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}

	t.Cleanup(func() {
		os.RemoveAll(dir)
	})

	s, err := New(dir)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}

	t.Cleanup(func() {
		s.Close()
	})

	return s
}

func TestSetGet(t *testing.T) {
	s := newTestStorage(t)

	key := []byte("contribution")
	value := []byte("record bytes")

	if err := s.Set(key, value); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	got, err := s.Get(key)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}

	if !bytes.Equal(got, value) {
		t.Errorf("expected %q, got %q", value, got)
	}
}

func TestGetMissing(t *testing.T) {
	s := newTestStorage(t)

	got, err := s.Get([]byte("missing"))
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}

	if got != nil {
		t.Errorf("expected nil for missing key, got %q", got)
	}
}

func TestHas(t *testing.T) {
	s := newTestStorage(t)

	ok, err := s.Has([]byte("k"))
	if err != nil {
		t.Fatalf("has failed: %v", err)
	}
	if ok {
		t.Error("expected false for missing key")
	}

	if err := s.Set([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	ok, err = s.Has([]byte("k"))
	if err != nil {
		t.Fatalf("has failed: %v", err)
	}
	if !ok {
		t.Error("expected true for existing key")
	}
}

func TestDelete(t *testing.T) {
	s := newTestStorage(t)

	key := []byte("k")

	if err := s.Set(key, []byte("v")); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	if err := s.Delete(key); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	got, err := s.Get(key)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}

	if got != nil {
		t.Error("expected nil after delete")
	}
}

func TestSetBatch(t *testing.T) {
	s := newTestStorage(t)

	pairs := []KeyValue{
		{Key: []byte("a"), Value: []byte("1")},
		{Key: []byte("b"), Value: []byte("2")},
		{Key: []byte("c"), Value: []byte("3")},
	}

	if err := s.SetBatch(pairs); err != nil {
		t.Fatalf("batch failed: %v", err)
	}

	for _, kv := range pairs {
		got, err := s.Get(kv.Key)
		if err != nil {
			t.Fatalf("get %q failed: %v", kv.Key, err)
		}

		if !bytes.Equal(got, kv.Value) {
			t.Errorf("key %q: expected %q, got %q", kv.Key, kv.Value, got)
		}
	}
}

func TestIteratePrefix(t *testing.T) {
	s := newTestStorage(t)

	// Keys with and without the scanned prefix
	for i := 0; i < 5; i++ {
		if err := s.Set([]byte(fmt.Sprintf("v:%d", i)), []byte{byte(i)}); err != nil {
			t.Fatalf("set failed: %v", err)
		}
	}
	if err := s.Set([]byte("w:0"), []byte{0xFF}); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	var count int

	err := s.IteratePrefix([]byte("v:"), func(key, value []byte) error {
		if !bytes.HasPrefix(key, []byte("v:")) {
			t.Errorf("unexpected key %q in prefix scan", key)
		}
		count++
		return nil
	})
	if err != nil {
		t.Fatalf("iterate failed: %v", err)
	}

	if count != 5 {
		t.Errorf("expected 5 keys, got %d", count)
	}
}

func TestIterateOrder(t *testing.T) {
	s := newTestStorage(t)

	keys := [][]byte{[]byte("e:1"), []byte("e:0"), []byte("e:2")}
	for _, k := range keys {
		if err := s.Set(k, []byte("x")); err != nil {
			t.Fatalf("set failed: %v", err)
		}
	}

	var visited [][]byte

	err := s.Iterate(func(key, value []byte) error {
		k := make([]byte, len(key))
		copy(k, key)
		visited = append(visited, k)
		return nil
	})
	if err != nil {
		t.Fatalf("iterate failed: %v", err)
	}

	for i := 1; i < len(visited); i++ {
		if bytes.Compare(visited[i-1], visited[i]) >= 0 {
			t.Errorf("keys not in lexicographic order: %q before %q", visited[i-1], visited[i])
		}
	}
}

func TestPrefixUpperBound(t *testing.T) {
	cases := []struct {
		prefix []byte
		want   []byte
	}{
		{[]byte("v:"), []byte("v;")},
		{[]byte{0x01, 0xFF}, []byte{0x02}},
		{[]byte{0xFF, 0xFF}, nil},
	}

	for _, tc := range cases {
		got := prefixUpperBound(tc.prefix)

		if tc.want == nil {
			if got != nil {
				t.Errorf("prefix %x: expected nil, got %x", tc.prefix, got)
			}
			continue
		}

		// Compare only the significant part: trailing zero bytes after a
		// carry are trimmed by the increment loop returning early.
		if !bytes.HasPrefix(got, tc.want) {
			t.Errorf("prefix %x: expected upper bound %x, got %x", tc.prefix, tc.want, got)
		}
	}
}

func TestReopenPersists(t *testing.T) {
	dir, err := os.MkdirTemp("", "storage_reopen_*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	s, err := New(dir)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}

	if err := s.Set([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	s2, err := New(dir)
	if err != nil {
		t.Fatalf("failed to reopen storage: %v", err)
	}
	t.Cleanup(func() { s2.Close() })

	got, err := s2.Get([]byte("k"))
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}

	if !bytes.Equal(got, []byte("v")) {
		t.Errorf("expected %q after reopen, got %q", "v", got)
	}
}
