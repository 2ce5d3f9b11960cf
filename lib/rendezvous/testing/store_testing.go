package testing

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dCCL/lib/rendezvous"
)

// StoreFactory creates a new, empty store. Stores returned by one factory
// must not share keys.
type StoreFactory func() rendezvous.IStore

// RunStoreTests runs the test suite for an IStore implementation.
func RunStoreTests(t *testing.T, name string, factory StoreFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Set&TryGet", func(t *testing.T) {
			testSetTryGet(t, factory())
		})

		t.Run("GetBlocks", func(t *testing.T) {
			testGetBlocks(t, factory())
		})

		t.Run("Timeout", func(t *testing.T) {
			testTimeout(t, factory())
		})

		t.Run("Add", func(t *testing.T) {
			testAdd(t, factory())
		})

		t.Run("CompareSet", func(t *testing.T) {
			testCompareSet(t, factory())
		})

		t.Run("Check&Wait", func(t *testing.T) {
			testCheckWait(t, factory())
		})

		t.Run("Delete&NumKeys", func(t *testing.T) {
			testDeleteNumKeys(t, factory())
		})

		t.Run("Bootstrap", func(t *testing.T) {
			testBootstrap(t, factory())
		})
	})
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testSetTryGet(t *testing.T, store rendezvous.IStore) {
	if err := store.Set("key", []byte("value1")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	value, found, err := store.TryGet("key")
	if err != nil || !found {
		t.Fatalf("Expected key to exist after Set, found=%v err=%v", found, err)
	}
	if !bytes.Equal(value, []byte("value1")) {
		t.Errorf("Expected value value1, got %s", value)
	}

	// the store must not keep a reference to returned values
	value[0] = 'X'
	value, _, _ = store.TryGet("key")
	if !bytes.Equal(value, []byte("value1")) {
		t.Errorf("Modifying a returned value changed the store: %s", value)
	}

	if err := store.Set("key", []byte("value2")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	value, _ = store.Get(context.Background(), "key")
	if !bytes.Equal(value, []byte("value2")) {
		t.Errorf("Expected value value2 after overwrite, got %s", value)
	}

	if _, found, err := store.TryGet("nonexistent-key"); found || err != nil {
		t.Errorf("Expected nonexistent key to return found=false, got %v, %v", found, err)
	}
}

func testGetBlocks(t *testing.T, store rendezvous.IStore) {
	got := make(chan []byte, 1)
	go func() {
		value, err := store.Get(context.Background(), "comm/0")
		if err != nil {
			t.Errorf("Get failed: %v", err)
		}
		got <- value
	}()

	time.Sleep(20 * time.Millisecond)
	select {
	case <-got:
		t.Fatal("Get returned before the key was set")
	default:
	}

	if err := store.Set("comm/0", []byte("uid")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	select {
	case value := <-got:
		if string(value) != "uid" {
			t.Errorf("Get returned %q, expected uid", value)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Get did not return after Set")
	}
}

func testTimeout(t *testing.T, store rendezvous.IStore) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	if _, err := store.Get(ctx, "never"); !rendezvous.IsTimeout(err) {
		t.Errorf("Expected timeout error from Get, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("Get returned after %s, before its deadline", elapsed)
	}

	if err := store.Wait(ctx, "never"); !rendezvous.IsTimeout(err) {
		t.Errorf("Expected timeout error from Wait, got %v", err)
	}
}

func testAdd(t *testing.T, store rendezvous.IStore) {
	const workers, perWorker = 10, 20

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				if _, err := store.Add("counter", 1); err != nil {
					t.Errorf("Add failed: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	value, err := store.Add("counter", 0)
	if err != nil || value != workers*perWorker {
		t.Errorf("Expected counter %d, got %d, %v", workers*perWorker, value, err)
	}

	if value, _ := store.Add("negative", -3); value != -3 {
		t.Errorf("Expected Add on a missing key to start at zero, got %d", value)
	}

	if err := store.Set("text", []byte("abc")); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Add("text", 1); err == nil {
		t.Error("Expected Add on a non numeric value to fail")
	}
}

func testCompareSet(t *testing.T, store rendezvous.IStore) {
	steps := []struct {
		name     string
		expected string
		desired  string
		want     string
	}{
		{"missing key, non empty expected", "x", "y", "x"},
		{"missing key, empty expected", "", "first", "first"},
		{"mismatch", "other", "second", "first"},
		{"match", "first", "second", "second"},
	}
	for _, step := range steps {
		got, err := store.CompareSet("cas", []byte(step.expected), []byte(step.desired))
		if err != nil {
			t.Fatalf("%s: CompareSet failed: %v", step.name, err)
		}
		if string(got) != step.want {
			t.Errorf("%s: CompareSet returned %q, expected %q", step.name, got, step.want)
		}
	}
}

func testCheckWait(t *testing.T, store rendezvous.IStore) {
	if err := store.Set("a", []byte("1")); err != nil {
		t.Fatal(err)
	}

	if ok, err := store.Check("a", "b"); ok || err != nil {
		t.Errorf("Expected Check(a, b) to be false before b exists, got %v, %v", ok, err)
	}

	done := make(chan error, 1)
	go func() { done <- store.Wait(context.Background(), "a", "b") }()

	time.Sleep(10 * time.Millisecond)
	if err := store.Set("b", []byte("2")); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Wait failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Wait did not return after all keys were set")
	}

	if ok, err := store.Check("a", "b"); !ok || err != nil {
		t.Errorf("Expected Check(a, b) to be true, got %v, %v", ok, err)
	}
}

func testDeleteNumKeys(t *testing.T, store rendezvous.IStore) {
	for i := 0; i < 5; i++ {
		if err := store.Set(fmt.Sprintf("key-%d", i), []byte{byte(i)}); err != nil {
			t.Fatal(err)
		}
	}

	if n, err := store.NumKeys(); n != 5 || err != nil {
		t.Errorf("Expected 5 keys, got %d, %v", n, err)
	}

	if deleted, _ := store.Delete("key-0"); !deleted {
		t.Error("Expected Delete of an existing key to report true")
	}
	if deleted, _ := store.Delete("key-0"); deleted {
		t.Error("Expected second Delete to report false")
	}
	if _, found, _ := store.TryGet("key-0"); found {
		t.Error("Expected key to be gone after Delete")
	}

	if n, _ := store.NumKeys(); n != 4 {
		t.Errorf("Expected 4 keys after Delete, got %d", n)
	}
}

// testBootstrap plays the communicator id exchange: one writer, many readers
// that start before the id is published
func testBootstrap(t *testing.T, store rendezvous.IStore) {
	const ranks = 8

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ids := make([][]byte, ranks)
	var wg sync.WaitGroup
	for rank := 1; rank < ranks; rank++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := store.Get(ctx, "pg/comm/0")
			if err != nil {
				t.Errorf("rank %d: Get failed: %v", rank, err)
			}
			ids[rank] = id
			if _, err := store.Add("pg/joined", 1); err != nil {
				t.Errorf("rank %d: Add failed: %v", rank, err)
			}
		}()
	}

	ids[0] = []byte("unique-id")
	if err := store.Set("pg/comm/0", ids[0]); err != nil {
		t.Fatal(err)
	}
	wg.Wait()

	for rank, id := range ids {
		if !bytes.Equal(id, ids[0]) {
			t.Errorf("rank %d received id %q, expected %q", rank, id, ids[0])
		}
	}
	if joined, _ := store.Add("pg/joined", 0); joined != ranks-1 {
		t.Errorf("Expected %d joined ranks, got %d", ranks-1, joined)
	}
}
