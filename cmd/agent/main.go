package main

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"screenspool/internal/agent"
	"screenspool/internal/constants"
	"screenspool/internal/logger"
)

func main() {
	srv := flag.String("srv", "", "collector address as <ipv4>:<port>")
	period := flag.Int("period", -1, "seconds between frames")
	flag.Parse()

	host, port, err := parseSrv(*srv)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, constants.MsgAgentUsage)
		os.Exit(2)
	}

	if *period < constants.MinPeriodSec || *period > constants.MaxPeriodSec {
		fmt.Fprintln(os.Stderr, constants.MsgInvalidPeriod)
		fmt.Fprintln(os.Stderr, constants.MsgAgentUsage)
		os.Exit(2)
	}

	a := agent.New(host, port, *period)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigs
		logger.Infof("Stopping...")
		a.Stop()
	}()

	if err := a.Run(); err != nil {
		if errors.Is(err, agent.ErrAuthRejected) {
			logger.Warnf("%v", err)
		} else {
			logger.Errorf("%v", err)
		}
		os.Exit(1)
	}
}

// parseSrv splits and validates "<ipv4>:<port>". The host must be a
// numeric IPv4 address.
func parseSrv(arg string) (string, int, error) {
	if arg == "" {
		return "", 0, errors.New("missing --srv")
	}

	idx := strings.LastIndex(arg, ":")
	if idx < 0 {
		return "", 0, fmt.Errorf("%s: %s", constants.MsgInvalidHost, arg)
	}

	host := arg[:idx]
	if ip := net.ParseIP(host); ip == nil || ip.To4() == nil {
		return "", 0, fmt.Errorf("%s: %s", constants.MsgInvalidHost, host)
	}

	port, err := strconv.Atoi(arg[idx+1:])
	if err != nil || port < constants.MinPort || port > constants.MaxPort {
		return "", 0, fmt.Errorf("%s: %s", constants.MsgInvalidPort, arg[idx+1:])
	}

	return host, port, nil
}
