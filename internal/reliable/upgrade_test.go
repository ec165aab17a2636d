package reliable

import (
	"net"
	"testing"
	"time"
)

func listenLoopback(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("ListenUDP() error = %v", err)
	}
	return conn
}

func TestConvID_Deterministic(t *testing.T) {
	a := ConvID("AB CD EF")
	b := ConvID("AB CD EF")
	if a != b {
		t.Errorf("ConvID not deterministic: %d != %d", a, b)
	}

	c := ConvID("11 22 33")
	if a == c {
		t.Error("different fingerprints produced the same conv id")
	}
}

func TestUpgrade_OriginalSocketSurvivesStreamClose(t *testing.T) {
	connA := listenLoopback(t)
	defer connA.Close()
	connB := listenLoopback(t)
	defer connB.Close()

	convID := ConvID("shared fingerprint")

	streamA, err := Upgrade(connA, connB.LocalAddr().(*net.UDPAddr), convID)
	if err != nil {
		t.Fatalf("Upgrade(A) error = %v", err)
	}
	streamB, err := Upgrade(connB, connA.LocalAddr().(*net.UDPAddr), convID)
	if err != nil {
		t.Fatalf("Upgrade(B) error = %v", err)
	}

	payload := []byte("hello over kcp")
	if _, err := streamA.Write(payload); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	buf := make([]byte, len(payload))
	streamB.sess.SetReadDeadline(time.Now().Add(3 * time.Second))
	n, err := streamB.Read(buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if string(buf[:n]) != string(payload) {
		t.Errorf("Read() = %q, want %q", buf[:n], payload)
	}

	// invariant P6: closing the duplicated stream must not invalidate
	// the original socket.
	if err := streamA.Close(); err != nil {
		t.Fatalf("Stream.Close() error = %v", err)
	}
	if err := streamB.Close(); err != nil {
		t.Fatalf("Stream.Close() error = %v", err)
	}

	if _, err := connA.WriteTo([]byte("ping"), connB.LocalAddr()); err != nil {
		t.Errorf("original socket A unusable after stream close: %v", err)
	}
}
