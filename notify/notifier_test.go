package notify

import (
	"sync"
	"testing"
	"time"
)

func TestHub_BasicSubscribeSignal(t *testing.T) {
	hub := NewHub()

	signals, cancel := hub.Subscribe([]string{"app+default+application"})
	defer cancel()

	hub.Signal("app+default+application", 1)

	select {
	case sig := <-signals:
		if sig.Content != "app+default+application" || sig.MessageID != 1 {
			t.Errorf("expected (app+default+application, 1), got (%s, %d)", sig.Content, sig.MessageID)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for signal")
	}
}

func TestHub_UnwatchedKeyFiltered(t *testing.T) {
	hub := NewHub()

	signals, cancel := hub.Subscribe([]string{"app+default+application"})
	defer cancel()

	hub.Signal("app+default+application", 1)

	select {
	case sig := <-signals:
		if sig.MessageID != 1 {
			t.Errorf("expected message id 1, got %d", sig.MessageID)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for signal")
	}

	hub.Signal("other+default+application", 2)

	select {
	case sig := <-signals:
		t.Errorf("should not receive signal for unwatched key, got (%s, %d)", sig.Content, sig.MessageID)
	case <-time.After(50 * time.Millisecond):
		// Expected - no signal
	}
}

func TestHub_MultipleWatchKeys(t *testing.T) {
	hub := NewHub()

	signals, cancel := hub.Subscribe([]string{
		"app+cluster-a+application",
		"app+default+application",
	})
	defer cancel()

	hub.Signal("app+cluster-a+application", 1)
	hub.Signal("app+cluster-b+application", 2) // Should be filtered out
	hub.Signal("app+default+application", 3)

	received := make(map[string]int64)
	for i := 0; i < 2; i++ {
		select {
		case sig := <-signals:
			received[sig.Content] = sig.MessageID
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("timeout waiting for signal %d", i+1)
		}
	}

	if received["app+cluster-a+application"] != 1 || received["app+default+application"] != 3 {
		t.Errorf("received unexpected signals: %v", received)
	}

	select {
	case sig := <-signals:
		t.Errorf("should not receive signal, got (%s, %d)", sig.Content, sig.MessageID)
	case <-time.After(50 * time.Millisecond):
		// Expected
	}
}

func TestHub_CancelUnsubscribes(t *testing.T) {
	hub := NewHub()

	signals, cancel := hub.Subscribe([]string{"key"})

	hub.Signal("key", 1)

	select {
	case <-signals:
		// Expected
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for signal")
	}

	cancel()

	// Channel should be closed
	select {
	case _, ok := <-signals:
		if ok {
			t.Error("channel should be closed after cancel")
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for channel close")
	}

	// Subsequent signals should not panic
	hub.Signal("key", 2)
}

func TestHub_MultipleSubscribers(t *testing.T) {
	hub := NewHub()

	signals1, cancel1 := hub.Subscribe([]string{"k1", "k2"})
	defer cancel1()
	signals2, cancel2 := hub.Subscribe([]string{"k1"})
	defer cancel2()
	signals3, cancel3 := hub.Subscribe([]string{"k2"})
	defer cancel3()

	hub.Signal("k1", 1)

	select {
	case sig := <-signals1:
		if sig.Content != "k1" || sig.MessageID != 1 {
			t.Errorf("signals1: expected (k1, 1), got (%s, %d)", sig.Content, sig.MessageID)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout on signals1")
	}

	select {
	case sig := <-signals2:
		if sig.Content != "k1" || sig.MessageID != 1 {
			t.Errorf("signals2: expected (k1, 1), got (%s, %d)", sig.Content, sig.MessageID)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout on signals2")
	}

	select {
	case sig := <-signals3:
		t.Errorf("signals3 should not receive, got (%s, %d)", sig.Content, sig.MessageID)
	case <-time.After(50 * time.Millisecond):
		// Expected
	}
}

func TestHub_ConcurrentSignalSubscribe(t *testing.T) {
	hub := NewHub()
	const numGoroutines = 10
	const numSignals = 100

	var wg sync.WaitGroup

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			signals, cancel := hub.Subscribe([]string{"key"})
			defer cancel()

			received := 0
			timeout := time.After(2 * time.Second)
			for received < defaultSignalBufferSize {
				select {
				case <-signals:
					received++
				case <-timeout:
					return
				}
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < numSignals; i++ {
			hub.Signal("key", int64(i))
		}
	}()

	wg.Wait()
}

func TestHub_BufferOverflowNonBlocking(t *testing.T) {
	hub := NewHub()

	signals, cancel := hub.Subscribe([]string{"key"})
	defer cancel()

	// Fill the buffer and send more; none of this may block.
	for i := 0; i < defaultSignalBufferSize+10; i++ {
		hub.Signal("key", int64(i))
	}

	received := 0
	timeout := time.After(100 * time.Millisecond)
	for {
		select {
		case <-signals:
			received++
		case <-timeout:
			if received < defaultSignalBufferSize {
				t.Errorf("expected at least %d signals, got %d", defaultSignalBufferSize, received)
			}
			return
		}
	}
}

func TestHub_SignalBeforeSubscribe(t *testing.T) {
	hub := NewHub()

	// Send signal before any subscription
	hub.Signal("key", 1)

	signals, cancel := hub.Subscribe([]string{"key"})
	defer cancel()

	// Should not receive the old signal
	select {
	case sig := <-signals:
		t.Errorf("should not receive old signal, got (%s, %d)", sig.Content, sig.MessageID)
	case <-time.After(50 * time.Millisecond):
		// Expected
	}
}

func TestHub_DoubleCancel(t *testing.T) {
	hub := NewHub()

	_, cancel := hub.Subscribe([]string{"key"})

	cancel()

	// Second cancel should not panic
	cancel()
}

func TestHub_UniqueSubscriptionIDs(t *testing.T) {
	hub := NewHub()

	const numSubs = 100
	cancels := make([]func(), numSubs)

	for i := 0; i < numSubs; i++ {
		_, cancel := hub.Subscribe([]string{"key"})
		cancels[i] = cancel
	}

	if len(hub.subscriptions) != numSubs {
		t.Errorf("expected %d subscriptions, got %d", numSubs, len(hub.subscriptions))
	}

	for _, cancel := range cancels {
		cancel()
	}

	if len(hub.subscriptions) != 0 {
		t.Errorf("expected 0 subscriptions after cancel, got %d", len(hub.subscriptions))
	}
}
