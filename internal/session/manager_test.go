package session

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/ghostlink/ghostlink/internal/crypto"
	"github.com/ghostlink/ghostlink/internal/nodestate"
	"github.com/ghostlink/ghostlink/internal/types"
	"github.com/ghostlink/ghostlink/internal/wire"
)

func listenLoopback(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("ListenUDP() error = %v", err)
	}
	return conn
}

// TestManager_FullLoopbackLifecycle exercises spec.md scenario 6 end to
// end: handshake, upgrade, send/receive, and disconnect-on-Bye.
func TestManager_FullLoopbackLifecycle(t *testing.T) {
	connA := listenLoopback(t)
	defer connA.Close()
	connB := listenLoopback(t)
	defer connB.Close()

	addrA := types.AddressFromUDP(connA.LocalAddr().(*net.UDPAddr))
	addrB := types.AddressFromUDP(connB.LocalAddr().(*net.UDPAddr))

	stateA := nodestate.New()
	stateB := nodestate.New()

	mgrA := New(connA, stateA, nil)
	mgrB := New(connB, stateB, nil)

	type hsResult struct {
		data *crypto.SessionData
		err  error
	}
	resA := make(chan hsResult, 1)
	resB := make(chan hsResult, 1)

	ctx := context.Background()
	go func() {
		d, err := mgrA.Handshake(ctx, addrB, 5*time.Second, crypto.ModeChaCha20Poly1305)
		resA <- hsResult{d, err}
	}()
	go func() {
		d, err := mgrB.Handshake(ctx, addrA, 5*time.Second, crypto.ModeChaCha20Poly1305)
		resB <- hsResult{d, err}
	}()

	var rA, rB hsResult
	select {
	case rA = <-resA:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for handshake A")
	}
	select {
	case rB = <-resB:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for handshake B")
	}
	if rA.err != nil || rB.err != nil {
		t.Fatalf("handshake errors: A=%v B=%v", rA.err, rB.err)
	}
	if rA.data.Fingerprint != rB.data.Fingerprint {
		t.Fatalf("fingerprint mismatch: %s != %s", rA.data.Fingerprint, rB.data.Fingerprint)
	}

	if err := mgrA.UpgradeToKCP(rA.data.Fingerprint); err != nil {
		t.Fatalf("UpgradeToKCP(A) error = %v", err)
	}
	if err := mgrB.UpgradeToKCP(rB.data.Fingerprint); err != nil {
		t.Fatalf("UpgradeToKCP(B) error = %v", err)
	}

	if !mgrA.IsConnected() || !mgrB.IsConnected() {
		t.Fatal("expected both managers to report IsConnected after upgrade")
	}

	if err := mgrA.SendText("hello"); err != nil {
		t.Fatalf("SendText() error = %v", err)
	}

	buf := make([]byte, 2048)
	done := make(chan struct{})
	var gotText string
	go func() {
		for {
			frame, ok, err := mgrB.ReceiveFrame(buf)
			if err != nil {
				t.Errorf("ReceiveFrame() error = %v", err)
				close(done)
				return
			}
			if ok && frame.Tag == wire.TagText {
				gotText = frame.Text
				close(done)
				return
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for peer to receive message")
	}
	if gotText != "hello" {
		t.Errorf("received text = %q, want %q", gotText, "hello")
	}

	mgrA.Disconnect()

	byeSeen := make(chan struct{})
	go func() {
		for {
			frame, ok, err := mgrB.ReceiveFrame(buf)
			if err != nil {
				close(byeSeen)
				return
			}
			if ok && frame.Tag == wire.TagStreamBye {
				mgrB.DisconnectOnByeReceived()
				close(byeSeen)
				return
			}
		}
	}()

	select {
	case <-byeSeen:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for peer to observe Bye")
	}

	if stateA.Snapshot().Status != types.StatusDisconnected {
		t.Errorf("side A status = %v, want Disconnected", stateA.Snapshot().Status)
	}
	if stateB.Snapshot().Status != types.StatusDisconnected {
		t.Errorf("side B status = %v, want Disconnected", stateB.Snapshot().Status)
	}
}

func TestManager_SendTextWithoutHandshake(t *testing.T) {
	conn := listenLoopback(t)
	defer conn.Close()
	mgr := New(conn, nodestate.New(), nil)

	if err := mgr.SendText("hi"); err == nil {
		t.Error("expected error sending without a session, got nil")
	}
}

func TestManager_UpgradeWithoutHandshake(t *testing.T) {
	conn := listenLoopback(t)
	defer conn.Close()
	mgr := New(conn, nodestate.New(), nil)

	if err := mgr.UpgradeToKCP("AA BB CC"); err != ErrNotHandshaken {
		t.Errorf("error = %v, want ErrNotHandshaken", err)
	}
}
