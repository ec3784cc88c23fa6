package infra

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestGroupDo(t *testing.T) {
	var g Group[string, int]

	v, err, shared := g.Do("key", func() (int, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 42 {
		t.Errorf("got %d, want 42", v)
	}
	if shared {
		t.Error("single caller should not be shared")
	}
}

func TestGroupDoError(t *testing.T) {
	var g Group[string, int]
	want := errors.New("boom")

	_, err, _ := g.Do("key", func() (int, error) {
		return 0, want
	})
	if !errors.Is(err, want) {
		t.Fatalf("got %v, want %v", err, want)
	}
}

func TestGroupDeduplicatesConcurrentCalls(t *testing.T) {
	var g Group[string, int]
	var executions atomic.Int32

	started := make(chan struct{})
	release := make(chan struct{})

	var wg sync.WaitGroup
	results := make([]int, 10)

	wg.Add(1)
	go func() {
		defer wg.Done()
		v, _, _ := g.Do("key", func() (int, error) {
			close(started)
			<-release
			executions.Add(1)
			return 7, nil
		})
		results[0] = v
	}()

	<-started
	for i := 1; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, _, _ := g.Do("key", func() (int, error) {
				executions.Add(1)
				return 7, nil
			})
			results[i] = v
		}(i)
	}

	// Give the duplicate callers time to join the in-flight call.
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := executions.Load(); n != 1 {
		t.Errorf("expected exactly 1 execution, got %d", n)
	}
	for i, v := range results {
		if v != 7 {
			t.Errorf("caller %d got %d, want 7", i, v)
		}
	}
}

func TestGroupDistinctKeysRunIndependently(t *testing.T) {
	var g Group[string, string]

	a, _, _ := g.Do("a", func() (string, error) { return "alpha", nil })
	b, _, _ := g.Do("b", func() (string, error) { return "beta", nil })
	if a != "alpha" || b != "beta" {
		t.Errorf("got %q/%q, want alpha/beta", a, b)
	}
}
