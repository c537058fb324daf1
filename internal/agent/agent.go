// Package agent implements the capture side: connect, authenticate,
// then ship one PNG frame per tick until stopped.
package agent

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/user"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"screenspool/internal/capture"
	"screenspool/internal/constants"
	"screenspool/internal/logger"
	"screenspool/internal/protocol"
	"screenspool/internal/utils"
)

var (
	// ErrAuthRejected means the collector answered 'N'.
	ErrAuthRejected = errors.New("authentication rejected by collector")
	// ErrServerClosed means the collector went away mid-conversation.
	ErrServerClosed = errors.New("connection closed by collector")
)

// grabber matches capture.Grab; swapped out in tests.
type grabber func() (width, height int, rgb []byte, err error)

// Agent is the periodic screenshot sender. Single-threaded: Run blocks
// until a fatal error or Stop.
type Agent struct {
	host      string
	port      int
	periodSec int

	grab grabber
	stop atomic.Bool
}

func New(host string, port, periodSec int) *Agent {
	return &Agent{
		host:      host,
		port:      port,
		periodSec: periodSec,
		grab:      capture.Grab,
	}
}

// Stop requests a clean exit; the loop notices within about a second.
func (a *Agent) Stop() {
	a.stop.Store(true)
}

// Run connects, authenticates and streams until Stop or a fatal error.
func (a *Agent) Run() error {
	addr := net.JoinHostPort(a.host, strconv.Itoa(a.port))

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", addr, err)
	}
	defer conn.Close()

	logger.Infof("Connected! (server: %s)", addr)

	if err := a.authenticate(conn); err != nil {
		return err
	}

	logger.Infof("Authenticated, sending a frame every %d seconds", a.periodSec)

	return a.streamLoop(conn)
}

// authenticate sends the identity frame and waits for the single status
// byte.
func (a *Agent) authenticate(conn net.Conn) error {
	payload, err := protocol.EncodeAuthPayload(localHostname(), localUsername())
	if err != nil {
		return fmt.Errorf("build auth payload: %w", err)
	}

	if err := sendAll(conn, protocol.EncodeFrame(protocol.FrameAuth, payload)); err != nil {
		return fmt.Errorf("send auth: %w", err)
	}

	var resp [1]byte
	if _, err := io.ReadFull(conn, resp[:]); err != nil {
		return fmt.Errorf("%w: no auth response: %v", ErrServerClosed, err)
	}

	switch resp[0] {
	case protocol.AuthAccepted:
		return nil
	case protocol.AuthRejected:
		return ErrAuthRejected
	default:
		return fmt.Errorf("unexpected auth response byte 0x%02X", resp[0])
	}
}

func (a *Agent) streamLoop(conn net.Conn) error {
	for !a.stop.Load() {
		if err := a.tick(conn); err != nil {
			return err
		}
		a.sleepBetweenTicks()
	}
	return nil
}

// tick grabs one screen and ships it. Capture trouble skips the tick;
// send trouble is fatal.
func (a *Agent) tick(conn net.Conn) error {
	width, height, rgb, err := a.grab()
	if err != nil {
		logger.Warnf("Skipping tick: %v", err)
		return nil
	}

	png, err := capture.EncodePNG(width, height, rgb)
	if err != nil {
		logger.Warnf("Skipping tick: PNG encode: %v", err)
		return nil
	}

	frame := protocol.EncodeFrame(protocol.FrameImage, png)
	if err := sendAll(conn, frame); err != nil {
		return err
	}

	logger.Infof("Sent %s to %s:%d", utils.FormatBytes(len(frame)), a.host, a.port)
	return nil
}

// sleepBetweenTicks waits the configured period in one-second steps so
// a stop request takes effect quickly.
func (a *Agent) sleepBetweenTicks() {
	for i := 0; i < a.periodSec; i++ {
		if a.stop.Load() {
			return
		}
		time.Sleep(constants.StopPollStep)
	}
}

// sendAll completes a send across short writes, retries interrupted
// syscalls, and reports a closed peer distinctly.
func sendAll(conn net.Conn, data []byte) error {
	for len(data) > 0 {
		n, err := conn.Write(data)
		if n > 0 {
			data = data[n:]
		}
		if err != nil {
			if errors.Is(err, syscall.EINTR) {
				continue
			}
			if errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, io.EOF) {
				return fmt.Errorf("%w: %v", ErrServerClosed, err)
			}
			return fmt.Errorf("send: %w", err)
		}
		if n == 0 {
			return ErrServerClosed
		}
	}
	return nil
}

func localHostname() string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		logger.Warnf("Failed to get hostname")
		return "unknown-host"
	}
	return hostname
}

func localUsername() string {
	current, err := user.Current()
	if err != nil || current.Username == "" {
		logger.Warnf("Failed to get username")
		return "unknown-user"
	}
	return current.Username
}
