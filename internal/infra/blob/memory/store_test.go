package memory

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"metarecon/internal/blob/core"
)

func TestStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()
	if s.Driver() != core.DriverMemory {
		t.Fatalf("unexpected driver %s", s.Driver())
	}
	if _, err := s.Put(ctx, "a.json", bytes.NewReader([]byte("{}")), core.PutOptions{Metadata: map[string]string{"m": "1"}}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := s.Put(ctx, "a.json", bytes.NewReader([]byte("{}")), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	info, err := s.Replace(ctx, "a.json", bytes.NewReader([]byte(`{"x":1}`)), core.PutOptions{})
	if err != nil || info.Size != 7 {
		t.Fatalf("replace: %+v %v", info, err)
	}
	_, rc, err := s.Get(ctx, "a.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	b, _ := io.ReadAll(rc)
	if string(b) != `{"x":1}` {
		t.Fatalf("unexpected payload %s", b)
	}
	if _, err := s.Replace(ctx, "b/c.json", bytes.NewReader(nil), core.PutOptions{}); err != nil {
		t.Fatalf("replace new key: %v", err)
	}
	list, _ := s.List(ctx, "b/")
	if len(list) != 1 || list[0].Key != "b/c.json" {
		t.Fatalf("unexpected list %+v", list)
	}
	if ok, _ := s.Delete(ctx, "a.json"); !ok {
		t.Fatalf("expected delete to report existing key")
	}
	if _, err := s.Head(ctx, "a.json"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_GetReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, _ = s.Put(ctx, "k", bytes.NewReader([]byte("abc")), core.PutOptions{Metadata: map[string]string{"a": "b"}})
	info, rc, _ := s.Get(ctx, "k")
	info.Metadata["a"] = "mutated"
	b, _ := io.ReadAll(rc)
	b[0] = 'z'
	again, rc2, _ := s.Get(ctx, "k")
	b2, _ := io.ReadAll(rc2)
	if again.Metadata["a"] != "b" || string(b2) != "abc" {
		t.Fatalf("store state leaked through Get")
	}
}
