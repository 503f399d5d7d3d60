package server

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDefaultShutdownConfig(t *testing.T) {
	cfg := DefaultShutdownConfig()
	if cfg.Timeout != 30*time.Second {
		t.Fatalf("expected 30s timeout, got %v", cfg.Timeout)
	}
	if len(cfg.Signals) != 2 {
		t.Fatalf("expected 2 signals, got %d", len(cfg.Signals))
	}
}

func TestNewShutdownHandler_WithConfig(t *testing.T) {
	h := NewShutdownHandler(&ShutdownConfig{Timeout: 10 * time.Second})
	if h.timeout != 10*time.Second {
		t.Fatalf("expected 10s timeout, got %v", h.timeout)
	}
}

func TestShutdownHandler_HookPriority(t *testing.T) {
	h := NewShutdownHandler(nil)

	h.RegisterHook("vector", PriorityVector, func(ctx context.Context) error { return nil })
	h.RegisterHook("http", PriorityHTTP, func(ctx context.Context) error { return nil })
	h.RegisterHook("tracing", PriorityTracing, func(ctx context.Context) error { return nil })
	h.Register(ReadinessShutdownHook(NewHealthServer(nil)))

	want := []string{"readiness", "http", "tracing", "vector"}
	for i, name := range want {
		if h.hooks[i].Name != name {
			t.Fatalf("hook %d: expected %s, got %s", i, name, h.hooks[i].Name)
		}
	}
}

func TestShutdownHandler_SamePriorityKeepsOrder(t *testing.T) {
	h := NewShutdownHandler(nil)
	h.RegisterHook("a", 10, func(ctx context.Context) error { return nil })
	h.RegisterHook("b", 10, func(ctx context.Context) error { return nil })
	if h.hooks[0].Name != "a" || h.hooks[1].Name != "b" {
		t.Fatalf("expected registration order, got %s, %s", h.hooks[0].Name, h.hooks[1].Name)
	}
}

func TestShutdownHandler_HookOrder(t *testing.T) {
	h := NewShutdownHandler(&ShutdownConfig{Timeout: 5 * time.Second})

	var order []int
	h.RegisterHook("third", 30, func(ctx context.Context) error {
		order = append(order, 3)
		return nil
	})
	h.RegisterHook("first", 10, func(ctx context.Context) error {
		order = append(order, 1)
		return nil
	})
	h.RegisterHook("second", 20, func(ctx context.Context) error {
		order = append(order, 2)
		return nil
	})

	h.Start()
	h.Shutdown()
	h.Wait()

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("expected order [1,2,3], got %v", order)
	}
}

func TestShutdownHandler_HookWithError(t *testing.T) {
	h := NewShutdownHandler(&ShutdownConfig{Timeout: 5 * time.Second})

	var called bool
	h.RegisterHook("failing", 10, func(ctx context.Context) error {
		return errors.New("hook failed")
	})
	h.RegisterHook("after", 20, func(ctx context.Context) error {
		called = true
		return nil
	})

	h.Start()
	h.Shutdown()
	h.Wait()

	if !called {
		t.Fatal("expected second hook to be called despite first failing")
	}
}

func TestShutdownHandler_ShutdownCh(t *testing.T) {
	h := NewShutdownHandler(&ShutdownConfig{Timeout: time.Second})
	h.Start()

	select {
	case <-h.ShutdownCh():
		t.Fatal("shutdown channel closed before shutdown")
	default:
	}

	h.Shutdown()
	h.Shutdown() // second call is a no-op

	select {
	case <-h.ShutdownCh():
	case <-time.After(time.Second):
		t.Fatal("shutdown channel not closed")
	}
	if !h.WaitWithTimeout(2 * time.Second) {
		t.Fatal("expected shutdown to complete")
	}
}

func TestShutdownHandler_WaitWithTimeout_Timeout(t *testing.T) {
	h := NewShutdownHandler(&ShutdownConfig{Timeout: 10 * time.Second})

	release := make(chan struct{})
	h.RegisterHook("slow", 10, func(ctx context.Context) error {
		<-release
		return nil
	})

	h.Start()
	h.Shutdown()

	if h.WaitWithTimeout(100 * time.Millisecond) {
		t.Fatal("expected timeout")
	}
	close(release)
	h.Wait()
}

func TestShutdownHandler_ShutdownBeforeStart(t *testing.T) {
	h := NewShutdownHandler(nil)
	h.Shutdown() // Should not panic
	if h.WaitWithTimeout(10 * time.Millisecond) {
		t.Fatal("shutdown should not run before Start")
	}
}

func TestCommonHooks(t *testing.T) {
	var httpCalled, tracingCalled, closed bool

	hooks := []ShutdownHook{
		HTTPServerShutdownHook("api", func(ctx context.Context) error {
			httpCalled = true
			return nil
		}),
		TracingShutdownHook(func(ctx context.Context) error {
			tracingCalled = true
			return nil
		}),
		VectorStoreShutdownHook(func() error {
			closed = true
			return nil
		}),
	}
	wantPriority := []int{PriorityHTTP, PriorityTracing, PriorityVector}
	wantName := []string{"api", "tracing", "vector-store"}

	for i, hook := range hooks {
		if hook.Name != wantName[i] || hook.Priority != wantPriority[i] {
			t.Fatalf("hook %d: got %s/%d", i, hook.Name, hook.Priority)
		}
		if err := hook.Fn(context.Background()); err != nil {
			t.Fatalf("hook %s: %v", hook.Name, err)
		}
	}
	if !httpCalled || !tracingCalled || !closed {
		t.Fatal("expected every hook to run")
	}
}

func TestReadinessShutdownHook(t *testing.T) {
	health := NewHealthServer(nil)
	health.SetReady(true)

	hook := ReadinessShutdownHook(health)
	_ = hook.Fn(context.Background())

	if health.ready {
		t.Fatal("expected not ready after hook")
	}
}
