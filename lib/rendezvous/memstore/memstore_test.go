package memstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dCCL/lib/rendezvous"
	storetesting "github.com/ValentinKolb/dCCL/lib/rendezvous/testing"
)

func TestSetGet(t *testing.T) {
	s := New()
	if err := s.Set("a", []byte("1")); err != nil {
		t.Fatal(err)
	}

	v, err := s.Get(context.Background(), "a")
	if err != nil || string(v) != "1" {
		t.Errorf("Get(a) = %q, %v; want 1", v, err)
	}

	if _, found, _ := s.TryGet("b"); found {
		t.Error("TryGet(b) found a missing key")
	}
}

func TestGetBlocksUntilSet(t *testing.T) {
	s := New()
	got := make(chan []byte)
	go func() {
		v, err := s.Get(context.Background(), "id")
		if err != nil {
			t.Errorf("Get failed: %v", err)
		}
		got <- v
	}()

	time.Sleep(20 * time.Millisecond)
	if err := s.Set("id", []byte("xyz")); err != nil {
		t.Fatal(err)
	}

	select {
	case v := <-got:
		if string(v) != "xyz" {
			t.Errorf("Get returned %q", v)
		}
	case <-time.After(time.Second):
		t.Fatal("Get did not return after Set")
	}
}

func TestGetTimeout(t *testing.T) {
	s := New()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := s.Get(ctx, "never")
	if !rendezvous.IsTimeout(err) {
		t.Errorf("expected timeout error, got %v", err)
	}
	if err := s.Wait(ctx, "never"); !rendezvous.IsTimeout(err) {
		t.Errorf("expected timeout error from Wait, got %v", err)
	}
}

func TestAdd(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Add("counter", 2); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	v, err := s.Add("counter", 0)
	if err != nil || v != 100 {
		t.Errorf("counter = %d, %v; want 100", v, err)
	}
	raw, _, _ := s.TryGet("counter")
	if string(raw) != "100" {
		t.Errorf("counter stored as %q", raw)
	}

	_ = s.Set("text", []byte("abc"))
	if _, err := s.Add("text", 1); err == nil {
		t.Error("Add on a non numeric value succeeded")
	}
}

func TestCompareSet(t *testing.T) {
	s := New()
	tests := []struct {
		name     string
		expected string
		desired  string
		want     string
	}{
		{"missing key with non empty expected", "x", "y", "x"},
		{"missing key with empty expected", "", "first", "first"},
		{"mismatch", "other", "second", "first"},
		{"match", "first", "second", "second"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.CompareSet("k", []byte(tt.expected), []byte(tt.desired))
			if err != nil {
				t.Fatal(err)
			}
			if string(got) != tt.want {
				t.Errorf("CompareSet returned %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCheckWaitDeleteNumKeys(t *testing.T) {
	s := New()
	_ = s.Set("a", nil)

	if ok, _ := s.Check("a", "b"); ok {
		t.Error("Check(a, b) true before b exists")
	}

	done := make(chan error)
	go func() { done <- s.Wait(context.Background(), "a", "b") }()
	_ = s.Set("b", []byte("x"))
	if err := <-done; err != nil {
		t.Errorf("Wait failed: %v", err)
	}

	if n, _ := s.NumKeys(); n != 2 {
		t.Errorf("NumKeys = %d, want 2", n)
	}
	if deleted, _ := s.Delete("a"); !deleted {
		t.Error("Delete(a) reported missing key")
	}
	if deleted, _ := s.Delete("a"); deleted {
		t.Error("second Delete(a) reported a deletion")
	}
	if n, _ := s.NumKeys(); n != 1 {
		t.Errorf("NumKeys = %d, want 1", n)
	}
}

func TestStoreContract(t *testing.T) {
	storetesting.RunStoreTests(t, "memstore", New)
}

func BenchmarkStore(b *testing.B) {
	storetesting.RunStoreBenchmarks(b, "memstore", New)
}
