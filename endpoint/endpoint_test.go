package endpoint

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/fabriclink/rdmatransport/completion"
	"github.com/fabriclink/rdmatransport/memregion"
	"github.com/fabriclink/rdmatransport/msgtype"
)

// pipeBroker is a ConnBroker backed by net.Pipe, for tests that don't need a
// real passive/active endpoint pair.
type pipeBroker struct {
	conn net.Conn
}

func (b *pipeBroker) PassiveAddr() string { return "pipe" }

func (b *pipeBroker) WaitForPeerConn(ctx context.Context, peerID uint32) (net.Conn, error) {
	return b.conn, nil
}

func (b *pipeBroker) DialPeer(ctx context.Context, peerID uint32, remoteAddr string) (net.Conn, error) {
	return b.conn, nil
}

func newConnectedPairWithPostRecvs(t *testing.T, postRecvs func(*Endpoint) error) (*Endpoint, *Endpoint) {
	t.Helper()
	c1, c2 := net.Pipe()

	cq1 := completion.NewQueue(16)
	cq2 := completion.NewQueue(16)
	e1 := New(cq1, true, nil)
	e2 := New(cq2, true, nil)

	ctx := context.Background()
	errCh := make(chan error, 2)
	go func() {
		errCh <- e1.Connect(ctx, &pipeBroker{conn: c1}, 0, 1, "", true, postRecvs)
	}()
	go func() {
		errCh <- e2.Connect(ctx, &pipeBroker{conn: c2}, 1, 0, "", false, nil)
	}()
	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil {
			t.Fatalf("Connect: %v", err)
		}
	}
	return e1, e2
}

func newConnectedPair(t *testing.T) (*Endpoint, *Endpoint) {
	return newConnectedPairWithPostRecvs(t, nil)
}

func waitEntry(t *testing.T, cq *completion.Queue) completion.Entry {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if e, ok := cq.TryPop(); ok {
			return e
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for completion")
	return completion.Entry{}
}

func TestEndpointSendRecvRoundTrip(t *testing.T) {
	e1, e2 := newConnectedPair(t)
	defer e1.Close()
	defer e2.Close()

	reg := msgtype.NewRegistry()
	mt, err := reg.Register("data", nil, nil, nil)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	recvMR, err := memregion.RegisterAllocated(8)
	if err != nil {
		t.Fatalf("RegisterAllocated: %v", err)
	}
	defer recvMR.Release()
	if err := e2.PostRecv(mt, 42, recvMR, 0, 8); err != nil {
		t.Fatalf("PostRecv: %v", err)
	}

	sendMR, err := memregion.Register([]byte("hello!!!"))
	if err != nil {
		t.Fatalf("memregion.Register: %v", err)
	}
	defer sendMR.Release()
	if err := e1.PostSend(mt, 7, sendMR, 0, 8, 99); err != nil {
		t.Fatalf("PostSend: %v", err)
	}

	sendEntry := waitEntry(t, e1.cq)
	if !sendEntry.Success || sendEntry.Kind != completion.KindSend {
		t.Errorf("send entry = %+v, want success KindSend", sendEntry)
	}

	recvEntry := waitEntry(t, e2.cq)
	if !recvEntry.Success || recvEntry.Kind != completion.KindReceive {
		t.Errorf("recv entry = %+v, want success KindReceive", recvEntry)
	}
	if recvEntry.Immediate != 99 {
		t.Errorf("recv immediate = %d, want 99", recvEntry.Immediate)
	}
	if string(recvMR.Buffer()) != "hello!!!" {
		t.Errorf("recvMR.Buffer() = %q, want %q", recvMR.Buffer(), "hello!!!")
	}
}

func TestEndpointPostRecvRejectsOutOfBounds(t *testing.T) {
	e1, e2 := newConnectedPair(t)
	defer e1.Close()
	defer e2.Close()

	reg := msgtype.NewRegistry()
	mt, err := reg.Register("data", nil, nil, nil)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	mr, err := memregion.RegisterAllocated(4)
	if err != nil {
		t.Fatalf("RegisterAllocated: %v", err)
	}
	defer mr.Release()

	if err := e2.PostRecv(mt, 1, mr, 2, 4); err == nil {
		t.Fatal("PostRecv did not reject an out-of-bounds window")
	}
}

func TestEndpointPreConnectPostRecvs(t *testing.T) {
	reg := msgtype.NewRegistry()
	mt, err := reg.Register("data", nil, nil, nil)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	var recvMR *memregion.MemoryRegion
	postRecvs := func(ep *Endpoint) error {
		var err error
		recvMR, err = memregion.RegisterAllocated(8)
		if err != nil {
			return err
		}
		return ep.PostRecv(mt, 1, recvMR, 0, 8)
	}

	e1, e2 := newConnectedPairWithPostRecvs(t, postRecvs)
	defer e1.Close()
	defer e2.Close()
	defer recvMR.Release()

	sendMR, err := memregion.Register([]byte("pre-post"))
	if err != nil {
		t.Fatalf("memregion.Register: %v", err)
	}
	defer sendMR.Release()
	if err := e2.PostSend(mt, 1, sendMR, 0, 8, 0); err != nil {
		t.Fatalf("PostSend: %v", err)
	}

	recvEntry := waitEntry(t, e1.cq)
	if !recvEntry.Success || recvEntry.Kind != completion.KindReceive {
		t.Errorf("recv entry = %+v, want success KindReceive", recvEntry)
	}
	if string(recvMR.Buffer()) != "pre-post" {
		t.Errorf("recvMR.Buffer() = %q, want %q", recvMR.Buffer(), "pre-post")
	}
}

func TestEndpointWriteSignaled(t *testing.T) {
	e1, e2 := newConnectedPair(t)
	defer e1.Close()
	defer e2.Close()

	reg := msgtype.NewRegistry()
	mt, err := reg.Register("rma", nil, nil, nil)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	targetBuf := make([]byte, 16)
	mr, err := memregion.Register(targetBuf)
	if err != nil {
		t.Fatalf("memregion.Register: %v", err)
	}
	defer mr.Release()
	remote := memregion.Describe(mr)

	src := []byte{0xAA, 0xAA, 0xAA, 0xAA}
	if err := e1.PostWrite(mt, 1, src, 4, remote, 0, false, true); err != nil {
		t.Fatalf("PostWrite: %v", err)
	}

	ackEntry := waitEntry(t, e1.cq)
	if !ackEntry.Success || ackEntry.Kind != completion.KindWrite {
		t.Errorf("write ack entry = %+v, want success KindWrite", ackEntry)
	}
	for i, b := range targetBuf[4:8] {
		if b != 0xAA {
			t.Errorf("targetBuf[%d] = %#x, want 0xAA", 4+i, b)
		}
	}
}

func TestEndpointWriteRejectsOutOfBounds(t *testing.T) {
	e1, e2 := newConnectedPair(t)
	defer e1.Close()
	defer e2.Close()

	reg := msgtype.NewRegistry()
	mt, err := reg.Register("rma", nil, nil, nil)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	targetBuf := make([]byte, 8)
	mr, err := memregion.Register(targetBuf)
	if err != nil {
		t.Fatalf("memregion.Register: %v", err)
	}
	defer mr.Release()
	remote := memregion.Describe(mr)

	src := []byte{1, 2, 3, 4}
	err = e1.PostWrite(mt, 1, src, 6, remote, 0, false, true)
	if err == nil {
		t.Fatal("PostWrite did not reject an out-of-bounds write")
	}
}

func TestEndpointCloseUnblocksPostedRecv(t *testing.T) {
	e1, e2 := newConnectedPair(t)
	defer e1.Close()

	reg := msgtype.NewRegistry()
	mt, err := reg.Register("data", nil, nil, nil)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	mr, err := memregion.RegisterAllocated(4)
	if err != nil {
		t.Fatalf("RegisterAllocated: %v", err)
	}
	defer mr.Release()
	if err := e2.PostRecv(mt, 1, mr, 0, 4); err != nil {
		t.Fatalf("PostRecv: %v", err)
	}

	done := make(chan struct{})
	go func() {
		e2.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return; popRecv likely still blocked")
	}
}
