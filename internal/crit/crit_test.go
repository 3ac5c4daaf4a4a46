package crit

import (
	"sync"
	"testing"
	"time"

	"github.com/danmuck/tracectl/internal/testutil/testlog"
)

func TestSpinExcludes(t *testing.T) {
	testlog.Start(t)
	s := NewSpin()
	counter := 0
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				s.Enter()
				counter++
				s.Exit()
			}
		}()
	}
	wg.Wait()
	if counter != 8000 {
		t.Fatalf("counter=%d want=8000", counter)
	}
	entries, _ := s.Contention()
	if entries != 8000 {
		t.Fatalf("entries=%d want=8000", entries)
	}
	if s.Held() {
		t.Fatalf("section still held")
	}
}

func TestSectionVariants(t *testing.T) {
	testlog.Start(t)
	var mu sync.Mutex
	for _, sec := range []Section{NewSpin(), Locker{L: &mu}, None{}} {
		sec.Enter()
		sec.Exit()
	}
	if !mu.TryLock() {
		t.Fatalf("locker left mutex held")
	}
}

func TestSpinIsNotReentrant(t *testing.T) {
	testlog.Start(t)
	s := NewSpin()
	s.Enter()

	entered := make(chan struct{})
	go func() {
		s.Enter()
		close(entered)
	}()
	select {
	case <-entered:
		t.Fatalf("second Enter passed a held section")
	case <-time.After(20 * time.Millisecond):
	}

	s.Exit()
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("second Enter never acquired the section")
	}
	if !s.Held() {
		t.Fatalf("section should be held by the second entry")
	}
	s.Exit()
}
