package collector

import (
	"fmt"
	"io"
	"net"
	"path/filepath"
	"testing"
	"time"

	"screenspool/internal/protocol"
)

func startReactor(t *testing.T) (*Reactor, string, chan error) {
	t.Helper()

	baseDir := t.TempDir()
	reactor, err := NewReactor(0, NewSink(baseDir), nil, nil)
	if err != nil {
		t.Fatalf("NewReactor: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- reactor.Run()
		close(done)
	}()

	t.Cleanup(func() {
		reactor.Stop()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("reactor did not stop")
		}
	})

	return reactor, baseDir, done
}

func dialReactor(t *testing.T, reactor *Reactor) net.Conn {
	t.Helper()

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", reactor.Port()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func authenticate(t *testing.T, conn net.Conn, hostname, username string) byte {
	t.Helper()

	payload, err := protocol.EncodeAuthPayload(hostname, username)
	if err != nil {
		t.Fatalf("EncodeAuthPayload: %v", err)
	}
	if _, err := conn.Write(protocol.EncodeFrame(protocol.FrameAuth, payload)); err != nil {
		t.Fatalf("write auth: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	resp := make([]byte, 1)
	if _, err := io.ReadFull(conn, resp); err != nil {
		t.Fatalf("read auth response: %v", err)
	}
	return resp[0]
}

func waitForFiles(t *testing.T, glob string, want int) []string {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		matches, err := filepath.Glob(glob)
		if err != nil {
			t.Fatalf("glob: %v", err)
		}
		if len(matches) >= want {
			return matches
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("never saw %d files matching %s", want, glob)
	return nil
}

func TestReactorEndToEnd(t *testing.T) {
	reactor, baseDir, _ := startReactor(t)

	conn := dialReactor(t, reactor)
	if resp := authenticate(t, conn, "alpha", "bob"); resp != protocol.AuthAccepted {
		t.Fatalf("auth response = %c, want Y", resp)
	}

	if _, err := conn.Write(protocol.EncodeFrame(protocol.FrameImage, []byte{0xFF})); err != nil {
		t.Fatalf("write image: %v", err)
	}

	waitForFiles(t, filepath.Join(baseDir, "alpha", "bob", "*.png"), 1)
}

func TestReactorRejectsBadAuth(t *testing.T) {
	reactor, _, _ := startReactor(t)

	conn := dialReactor(t, reactor)
	payload := []byte{0x00, 0x05, 'a', 'l', 'p', 'h', 'a', 0x00, 0x04, 'b', '!', 'b', '!'}
	if _, err := conn.Write(protocol.EncodeFrame(protocol.FrameAuth, payload)); err != nil {
		t.Fatalf("write auth: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	resp := make([]byte, 1)
	if _, err := io.ReadFull(conn, resp); err != nil {
		t.Fatalf("read auth response: %v", err)
	}
	if resp[0] != protocol.AuthRejected {
		t.Fatalf("auth response = %c, want N", resp[0])
	}

	// The collector closes after the rejection.
	if _, err := conn.Read(resp); err == nil {
		t.Error("expected the connection to be closed after N")
	}
}

func TestReactorInterleavedSessions(t *testing.T) {
	reactor, baseDir, _ := startReactor(t)

	// S1 delivers only the first 8 bytes of its auth frame.
	s1 := dialReactor(t, reactor)
	s1Payload, err := protocol.EncodeAuthPayload("hostone", "carol")
	if err != nil {
		t.Fatalf("EncodeAuthPayload: %v", err)
	}
	s1Wire := protocol.EncodeFrame(protocol.FrameAuth, s1Payload)
	if _, err := s1.Write(s1Wire[:8]); err != nil {
		t.Fatalf("write s1 half: %v", err)
	}

	// S2 authenticates fully and sends an image while S1 is stalled.
	s2 := dialReactor(t, reactor)
	if resp := authenticate(t, s2, "hosttwo", "dave"); resp != protocol.AuthAccepted {
		t.Fatalf("s2 auth response = %c, want Y", resp)
	}
	if _, err := s2.Write(protocol.EncodeFrame(protocol.FrameImage, []byte{0x42})); err != nil {
		t.Fatalf("write s2 image: %v", err)
	}
	waitForFiles(t, filepath.Join(baseDir, "hosttwo", "dave", "*.png"), 1)

	// S1 completes and must still authenticate cleanly.
	if _, err := s1.Write(s1Wire[8:]); err != nil {
		t.Fatalf("write s1 rest: %v", err)
	}
	s1.SetReadDeadline(time.Now().Add(2 * time.Second))
	resp := make([]byte, 1)
	if _, err := io.ReadFull(s1, resp); err != nil {
		t.Fatalf("read s1 auth response: %v", err)
	}
	if resp[0] != protocol.AuthAccepted {
		t.Errorf("s1 auth response = %c, want Y", resp[0])
	}

	// No state bleed: nothing was written for S1's identity.
	if matches, _ := filepath.Glob(filepath.Join(baseDir, "hostone", "carol", "*.png")); len(matches) != 0 {
		t.Errorf("unexpected files for s1: %v", matches)
	}
}

func TestReactorStopWhileIdle(t *testing.T) {
	reactor, _, done := startReactor(t)

	// A connected session must be torn down by shutdown.
	conn := dialReactor(t, reactor)
	if resp := authenticate(t, conn, "alpha", "bob"); resp != protocol.AuthAccepted {
		t.Fatalf("auth response = %c, want Y", resp)
	}

	reactor.Stop()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reactor did not exit after Stop")
	}

	// The peer observes the close.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	if _, err := conn.Read(buf); err == nil {
		t.Error("expected the session socket to be closed")
	}
}
