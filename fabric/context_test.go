package fabric

import (
	"context"
	"testing"
	"time"

	"github.com/fabriclink/rdmatransport/bootstrap"
	"github.com/fabriclink/rdmatransport/config"
)

func newTestChannels(t *testing.T, ctx context.Context, idA, idB uint32) (*bootstrap.TCPChannel, *bootstrap.TCPChannel) {
	t.Helper()
	a, err := bootstrap.NewTCPChannel(ctx, idA, "127.0.0.1:0", nil)
	if err != nil {
		t.Fatalf("NewTCPChannel(a): %v", err)
	}
	b, err := bootstrap.NewTCPChannel(ctx, idB, "127.0.0.1:0", nil)
	if err != nil {
		t.Fatalf("NewTCPChannel(b): %v", err)
	}
	if err := a.AddNode(idB, b.ListenAddr()); err != nil {
		t.Fatalf("a.AddNode: %v", err)
	}
	if err := b.AddNode(idA, a.ListenAddr()); err != nil {
		t.Fatalf("b.AddNode: %v", err)
	}
	return a, b
}

func TestFabricInitializeAndDestroy(t *testing.T) {
	cfg := config.Default()
	fc := Initialize(1, "127.0.0.1:0", cfg)
	if fc == nil {
		t.Fatal("Initialize returned nil")
	}
	if fc.PassiveAddr() == "" {
		t.Error("PassiveAddr is empty after Initialize")
	}
	fc.Destroy()
	fc.Destroy() // idempotent
}

func TestFabricConnectTwoNodes(t *testing.T) {
	cfg := config.Default()
	fc1 := Initialize(1, "127.0.0.1:0", cfg)
	fc2 := Initialize(2, "127.0.0.1:0", cfg)
	if fc1 == nil || fc2 == nil {
		t.Fatal("Initialize returned nil")
	}
	defer fc1.Destroy()
	defer fc2.Destroy()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch1, ch2 := newTestChannels(t, ctx, 1, 2)
	defer ch1.Close()
	defer ch2.Close()

	errCh := make(chan error, 2)
	go func() {
		_, err := fc1.Connect(ctx, ch1, 2, nil)
		errCh <- err
	}()
	go func() {
		_, err := fc2.Connect(ctx, ch2, 1, nil)
		errCh <- err
	}()

	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil {
			t.Fatalf("Connect: %v", err)
		}
	}

	if _, ok := fc1.Endpoint(2); !ok {
		t.Error("fc1 has no endpoint for peer 2")
	}
	if _, ok := fc2.Endpoint(1); !ok {
		t.Error("fc2 has no endpoint for peer 1")
	}
}

func TestProviderLookupUnknownName(t *testing.T) {
	if _, ok := Lookup("verbs"); ok {
		t.Error("verbs should have no registered provider in this module")
	}
	if _, ok := Lookup("sockets"); !ok {
		t.Error("sockets provider should be registered by init()")
	}
}
