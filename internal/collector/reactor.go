// Package collector implements the receiving side: a single-threaded
// epoll reactor multiplexing every connected agent, a per-session
// protocol state machine, and the screenshot sink.
package collector

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"screenspool/internal/constants"
	"screenspool/internal/logger"
	"screenspool/internal/registry"
)

// Reactor owns the listening socket, the epoll descriptor, and the
// fd -> Session map. All session I/O happens on the goroutine running
// Run; no locks guard per-session state.
type Reactor struct {
	epollFd  int
	listenFd int
	port     int

	// wake pipe: written by Stop so the epoll wait returns even when
	// no socket is ready.
	wakeRead  int
	wakeWrite int

	sessions map[int]*Session
	stop     atomic.Bool

	sink   *Sink
	rec    *registry.Recorder
	events *logger.Logger
}

// NewReactor binds 0.0.0.0:<port> and prepares the event loop. Pass
// port 0 to let the kernel pick one (Port reports it). rec and events
// may be nil.
func NewReactor(port int, sink *Sink, rec *registry.Recorder, events *logger.Logger) (*Reactor, error) {
	r := &Reactor{
		epollFd:  -1,
		listenFd: -1,
		wakeRead: -1, wakeWrite: -1,
		sessions: make(map[int]*Session),
		sink:     sink,
		rec:      rec,
		events:   events,
	}

	if err := r.setup(port); err != nil {
		r.releaseFds()
		return nil, err
	}

	return r, nil
}

func (r *Reactor) setup(port int) error {
	epollFd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return fmt.Errorf("epoll_create1: %w", err)
	}
	r.epollFd = epollFd

	listenFd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("socket: %w", err)
	}
	r.listenFd = listenFd

	if err := unix.SetsockoptInt(listenFd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}
	// Best-effort options.
	unix.SetsockoptInt(listenFd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	unix.SetsockoptInt(listenFd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1)

	if err := unix.Bind(listenFd, &unix.SockaddrInet4{Port: port}); err != nil {
		return fmt.Errorf("bind port %d: %w", port, err)
	}
	if err := unix.Listen(listenFd, unix.SOMAXCONN); err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	sa, err := unix.Getsockname(listenFd)
	if err != nil {
		return fmt.Errorf("getsockname: %w", err)
	}
	if inet4, ok := sa.(*unix.SockaddrInet4); ok {
		r.port = inet4.Port
	}

	if err := r.register(listenFd, unix.EPOLLIN|unix.EPOLLET); err != nil {
		return err
	}

	var pipeFds [2]int
	if err := unix.Pipe2(pipeFds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return fmt.Errorf("pipe2: %w", err)
	}
	r.wakeRead, r.wakeWrite = pipeFds[0], pipeFds[1]

	return r.register(r.wakeRead, unix.EPOLLIN)
}

func (r *Reactor) register(fd int, eventBits uint32) error {
	event := unix.EpollEvent{Events: eventBits, Fd: int32(fd)}
	if err := unix.EpollCtl(r.epollFd, unix.EPOLL_CTL_ADD, fd, &event); err != nil {
		return fmt.Errorf("epoll_ctl add fd %d: %w", fd, err)
	}
	return nil
}

// Port returns the bound listening port.
func (r *Reactor) Port() int {
	return r.port
}

// Stop requests a clean shutdown from any goroutine. Only the first
// call writes the wake byte; by the time Run returns the pipe is gone.
func (r *Reactor) Stop() {
	if r.stop.Swap(true) {
		return
	}
	unix.Write(r.wakeWrite, []byte{0})
}

// Run drives the event loop until Stop. On return every session and
// descriptor is closed.
func (r *Reactor) Run() error {
	defer r.shutdown()

	logger.Infof("Listening on 0.0.0.0:%d", r.port)

	events := make([]unix.EpollEvent, constants.MaxEpollEvents)

	for !r.stop.Load() {
		n, err := unix.EpollWait(r.epollFd, events, -1)
		if err != nil {
			// An interrupted wait is the shutdown path: re-check
			// the stop flag.
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("epoll_wait: %w", err)
		}

		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)

			switch fd {
			case r.listenFd:
				r.acceptBurst()
			case r.wakeRead:
				drainPipe(r.wakeRead)
			default:
				r.dispatch(fd, events[i].Events)
			}
		}
	}

	return nil
}

// acceptBurst accepts until the kernel runs dry. Each new peer becomes
// a non-blocking, edge-triggered session keyed by its fd.
func (r *Reactor) acceptBurst() {
	for {
		fd, sa, err := unix.Accept4(r.listenFd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			switch err {
			case unix.EAGAIN:
				return
			case unix.EINTR:
				continue
			default:
				logger.Warnf("accept: %v", err)
				return
			}
		}

		host, port := sockaddrToHostPort(sa)

		if err := r.register(fd, unix.EPOLLIN|unix.EPOLLRDHUP|unix.EPOLLET); err != nil {
			logger.Warnf("%v", err)
			unix.Close(fd)
			continue
		}

		session := newSession(fd, uuid.New().String(), host, port, r.sink, r.rec, r.events)
		r.sessions[fd] = session

		logger.Infof("New connection! (client: %s)", session.peerAddr())
		r.events.LogSession("connect", session.id, session.peerAddr())
	}
}

// dispatch runs one session's readiness step and closes it on error.
func (r *Reactor) dispatch(fd int, eventBits uint32) {
	session, ok := r.sessions[fd]
	if !ok {
		return
	}

	if eventBits&(unix.EPOLLHUP|unix.EPOLLERR|unix.EPOLLRDHUP) != 0 {
		r.closeSession(session, ErrPeerClosed)
		return
	}

	if eventBits&unix.EPOLLOUT != 0 {
		if err := session.HandleWritable(); err != nil {
			r.closeSession(session, err)
			return
		}
	}

	if eventBits&unix.EPOLLIN != 0 {
		if err := session.HandleReadable(); err != nil {
			r.closeSession(session, err)
			return
		}
	}

	r.updateInterest(session)
}

// updateInterest keeps write interest in sync with the session's
// pending output.
func (r *Reactor) updateInterest(session *Session) {
	eventBits := uint32(unix.EPOLLIN | unix.EPOLLRDHUP | unix.EPOLLET)
	if session.WantWrite() {
		eventBits |= unix.EPOLLOUT
	}

	event := unix.EpollEvent{Events: eventBits, Fd: int32(session.fd)}
	if err := unix.EpollCtl(r.epollFd, unix.EPOLL_CTL_MOD, session.fd, &event); err != nil {
		logger.Warnf("epoll_ctl mod fd %d: %v", session.fd, err)
		r.closeSession(session, fmt.Errorf("epoll_ctl: %w", err))
	}
}

func (r *Reactor) closeSession(session *Session, cause error) {
	unix.EpollCtl(r.epollFd, unix.EPOLL_CTL_DEL, session.fd, nil)
	delete(r.sessions, session.fd)

	switch {
	case cause == nil, errors.Is(cause, errSessionDone), errors.Is(cause, ErrPeerClosed):
		logger.Infof("Close connection. (client: %s)", session.peerAddr())
	default:
		logger.Warnf("Close connection: %v (client: %s)", cause, session.peerAddr())
	}

	session.Close()
}

func (r *Reactor) shutdown() {
	for _, session := range r.sessions {
		r.closeSession(session, nil)
	}
	r.releaseFds()
}

func (r *Reactor) releaseFds() {
	for _, fd := range []int{r.listenFd, r.wakeRead, r.wakeWrite, r.epollFd} {
		if fd >= 0 {
			unix.Close(fd)
		}
	}
}

func drainPipe(fd int) {
	buf := make([]byte, 16)
	for {
		n, err := unix.Read(fd, buf)
		if n <= 0 || err != nil {
			return
		}
	}
}

func sockaddrToHostPort(sa unix.Sockaddr) (string, string) {
	switch addr := sa.(type) {
	case *unix.SockaddrInet4:
		return net.IP(addr.Addr[:]).String(), strconv.Itoa(addr.Port)
	case *unix.SockaddrInet6:
		return net.IP(addr.Addr[:]).String(), strconv.Itoa(addr.Port)
	default:
		return "unknown", "0"
	}
}
