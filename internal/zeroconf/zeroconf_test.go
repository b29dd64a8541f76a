package zeroconf_test

import (
	"context"
	"testing"
	"time"

	"github.com/micro-nova/pulsemix/internal/zeroconf"
)

// TestNew verifies that New keeps the TXT records it is given.
func TestNew(t *testing.T) {
	svc := zeroconf.New("pulsemix-test", 8090, "version=test", "mode=running")
	if svc == nil {
		t.Fatal("New() returned nil")
	}
	if txt := svc.TXT(); len(txt) != 2 || txt[1] != "mode=running" {
		t.Errorf("TXT() = %v", txt)
	}
}

func TestStart_InvalidPort(t *testing.T) {
	svc := zeroconf.New("pulsemix-test", 0)
	if err := svc.Start(context.Background()); err == nil {
		t.Error("Start with port 0 succeeded, want error")
	}
}

// TestStart_Cancel starts the service and cancels the context within 1 second.
// It verifies that Start returns without blocking.
func TestStart_Cancel(t *testing.T) {
	svc := zeroconf.New("pulsemix-test", 18090)

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- svc.Start(ctx)
	}()

	select {
	case err := <-done:
		// Start may return an error if mDNS is unavailable in the test
		// environment; what matters is that it returned.
		if err != nil {
			t.Logf("Start returned error (may be expected in CI): %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Start did not return within 3 seconds after context cancellation")
	}
}

func TestParseTXT(t *testing.T) {
	got := zeroconf.ParseTXT([]string{"version=0.1.0", "mode=calibrating", "flag", "=x", "a=b=c"})
	want := map[string]string{"version": "0.1.0", "mode": "calibrating", "flag": "", "a": "b=c"}
	if len(got) != len(want) {
		t.Fatalf("ParseTXT = %v; want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("ParseTXT[%q] = %q; want %q", k, got[k], v)
		}
	}
}

// TestBrowse_ReturnsOnCancel checks Browse honours its deadline. Multicast may
// be unavailable in the test environment, so an error is tolerated.
func TestBrowse_ReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := zeroconf.Browse(ctx); err != nil {
			t.Logf("Browse error (may be expected in CI): %v", err)
		}
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Browse did not return after its context expired")
	}
}
