package collector

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sys/unix"

	"screenspool/internal/constants"
	"screenspool/internal/logger"
	"screenspool/internal/protocol"
	"screenspool/internal/registry"
)

var (
	// ErrPeerClosed means the remote end went away (orderly close,
	// reset, or broken pipe).
	ErrPeerClosed = errors.New("connection closed by peer")
	// ErrProtocol marks any wire-level violation; the session closes.
	ErrProtocol = errors.New("protocol violation")
	// errSessionDone signals a deliberate close after the pending
	// response has been flushed (rejected authentication).
	errSessionDone = errors.New("session done")
)

type sessionState int

const (
	stateAuthenticating sessionState = iota
	stateStreaming
	stateClosed
)

// Session holds the collector-side state of one connected agent: the
// socket, the receive buffer and resumable parse cursor, the queue of
// parsed frames, the pending send buffer, and the identity learned from
// authentication.
//
// All methods run on the reactor goroutine; a Session is never shared.
type Session struct {
	fd   int
	id   string
	host string // peer IP as text
	port string // peer port as text

	state           sessionState
	recv            []byte
	parser          protocol.Parser
	frames          []protocol.Frame
	send            []byte
	closeAfterFlush bool

	creds protocol.Credentials

	sink   *Sink
	rec    *registry.Recorder
	events *logger.Logger
}

func newSession(fd int, id, host, port string, sink *Sink, rec *registry.Recorder, events *logger.Logger) *Session {
	return &Session{
		fd:     fd,
		id:     id,
		host:   host,
		port:   port,
		state:  stateAuthenticating,
		sink:   sink,
		rec:    rec,
		events: events,
	}
}

func (s *Session) peerAddr() string {
	return s.host + ":" + s.port
}

// peerID is the peer's IP with dots removed plus its port, used to keep
// files from different agents on the same account apart.
func (s *Session) peerID() string {
	return strings.ReplaceAll(s.host, ".", "") + "_" + s.port
}

// WantWrite reports whether the reactor must keep write interest.
func (s *Session) WantWrite() bool {
	return len(s.send) > 0
}

// HandleReadable runs one full readable step: drain the socket, parse
// every completed frame, handle them in order, then opportunistically
// flush any response. A non-nil return closes the session.
func (s *Session) HandleReadable() error {
	if err := s.drainSocket(); err != nil {
		return err
	}
	if err := s.parseFrames(); err != nil {
		return err
	}
	if err := s.handleFrames(); err != nil {
		return err
	}
	return s.flush()
}

// HandleWritable continues flushing the send buffer.
func (s *Session) HandleWritable() error {
	return s.flush()
}

// drainSocket reads until the kernel reports would-block. The bytes of
// several frames, or a fraction of one, may arrive in a single step.
func (s *Session) drainSocket() error {
	chunk := make([]byte, constants.RecvChunkSize)

	for {
		n, err := unix.Read(s.fd, chunk)
		if n > 0 {
			s.recv = append(s.recv, chunk[:n]...)
			continue
		}
		if n == 0 && err == nil {
			return ErrPeerClosed
		}
		switch err {
		case unix.EAGAIN:
			return nil
		case unix.EINTR:
			continue
		case unix.ECONNRESET:
			return fmt.Errorf("%w: %v", ErrPeerClosed, err)
		default:
			return fmt.Errorf("recv: %w", err)
		}
	}
}

// parseFrames advances the cursor over the receive buffer until it
// needs more bytes, queueing every completed frame. Bytes of the next
// frame left behind stay in the buffer for the next step.
func (s *Session) parseFrames() error {
	for {
		frame, status := s.parser.Next(&s.recv)
		switch status {
		case protocol.FrameComplete:
			s.frames = append(s.frames, frame)
		case protocol.NeedMore:
			return nil
		case protocol.TooLarge:
			return fmt.Errorf("%w: declared payload exceeds %d bytes", ErrProtocol, protocol.MaxFramePayload)
		}
	}
}

// handleFrames dispatches queued frames in arrival order.
func (s *Session) handleFrames() error {
	for len(s.frames) > 0 {
		frame := s.frames[0]
		s.frames = s.frames[1:]

		var err error
		switch s.state {
		case stateAuthenticating:
			err = s.handleAuthFrame(frame)
		case stateStreaming:
			err = s.handleStreamFrame(frame)
		default:
			err = fmt.Errorf("%w: frame on closed session", ErrProtocol)
		}
		if err != nil {
			return err
		}

		// A rejected auth leaves later frames meaningless.
		if s.closeAfterFlush {
			s.frames = nil
		}
	}
	return nil
}

func (s *Session) handleAuthFrame(frame protocol.Frame) error {
	if frame.Type != protocol.FrameAuth {
		return fmt.Errorf("%w: frame type %q before authentication", ErrProtocol, frame.Type)
	}

	creds, err := protocol.ParseAuthPayload(frame.Payload)
	if err != nil {
		logger.Warnf("[client: %s] Authentication failed: %v", s.peerAddr(), err)
		s.events.LogError("auth_failed", s.id, s.peerAddr(), err)
		s.send = append(s.send, protocol.AuthRejected)
		s.closeAfterFlush = true
		return nil
	}

	s.creds = creds
	s.state = stateStreaming
	s.send = append(s.send, protocol.AuthAccepted)

	logger.Infof("[client: %s] Authenticated as %s/%s", s.peerAddr(), creds.Hostname, creds.Username)
	s.events.LogAuth(s.id, s.peerAddr(), creds.Hostname, creds.Username)
	s.rec.Connected(s.id, creds.Hostname, creds.Username, s.peerAddr())

	return nil
}

func (s *Session) handleStreamFrame(frame protocol.Frame) error {
	if frame.Type != protocol.FrameImage {
		return fmt.Errorf("%w: frame type %q while streaming", ErrProtocol, frame.Type)
	}

	path, err := s.sink.SaveScreen(s.creds.Hostname, s.creds.Username, s.peerID(), frame.Payload)
	if err != nil {
		// Persistence trouble is local; the session keeps going.
		logger.Errorf("[client: %s] %v", s.peerAddr(), err)
		s.events.LogError("persist_failed", s.id, s.peerAddr(), err)
		return nil
	}

	logger.Infof("[client: %s] Saved image: %q (%d bytes)", s.peerAddr(), path, len(frame.Payload))
	s.events.LogFrame(s.id, s.peerAddr(), path, len(frame.Payload))
	s.rec.Frame(s.id, len(frame.Payload))

	return nil
}

// flush writes pending response bytes without blocking. The buffer only
// ever shrinks; on would-block the remainder waits for write readiness.
func (s *Session) flush() error {
	for len(s.send) > 0 {
		n, err := unix.Write(s.fd, s.send)
		if n > 0 {
			s.send = s.send[n:]
			continue
		}
		if err == nil {
			return ErrPeerClosed
		}
		switch err {
		case unix.EAGAIN:
			return nil
		case unix.EINTR:
			continue
		case unix.EPIPE, unix.ECONNRESET:
			return fmt.Errorf("%w: %v", ErrPeerClosed, err)
		default:
			return fmt.Errorf("send: %w", err)
		}
	}

	if s.closeAfterFlush {
		return errSessionDone
	}
	return nil
}

// Close releases the descriptor and reports the disconnect. Safe to
// call once per session; the reactor is the only caller.
func (s *Session) Close() {
	if s.state == stateClosed {
		return
	}
	s.state = stateClosed

	unix.Close(s.fd)
	s.rec.Disconnected(s.id)
	s.events.LogSession("disconnect", s.id, s.peerAddr())
}
