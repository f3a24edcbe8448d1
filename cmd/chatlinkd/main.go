// Command chatlinkd hosts the chat server described by this module: SLIP
// framing over one or more serial lines, an IPv4 forwarding/host engine,
// a simplified TCP server, and the IRC-like chat application above it.
package main

import (
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/malbeclabs/chatlink/internal/ipstack"
	"github.com/malbeclabs/chatlink/internal/ircapp"
	"github.com/malbeclabs/chatlink/internal/sched"
	"github.com/malbeclabs/chatlink/internal/slip"
	"github.com/malbeclabs/chatlink/internal/tcpstack"
)

var (
	myAddr         string
	serialLines    []string
	routes         []string
	listenPort     uint16
	ignoreChecksum bool
	logLevel       string
)

var rootCmd = &cobra.Command{
	Use:   "chatlinkd",
	Short: "Serial-link chat network stack daemon",
	Long: `chatlinkd hosts a small IRC-like chat server over a point-to-point
serial link, implementing SLIP framing, IPv4 forwarding, and a simplified
TCP engine from scratch.`,
	RunE: run,
}

func init() {
	rootCmd.Flags().StringVar(&myAddr, "my-addr", "", "this host's IPv4 address (required)")
	rootCmd.Flags().StringSliceVar(&serialLines, "serial-line", nil, "peer=device serial line association, repeatable")
	rootCmd.Flags().StringSliceVar(&routes, "route", nil, "cidr=next-hop forwarding entry, repeatable")
	rootCmd.Flags().Uint16Var(&listenPort, "port", 6667, "TCP port the chat server listens on")
	rootCmd.Flags().BoolVar(&ignoreChecksum, "ignore-checksum", true, "skip TCP checksum validation of inbound segments")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	log := newLogger(logLevel)

	if myAddr == "" {
		return fmt.Errorf("--my-addr is required")
	}
	addr, err := netip.ParseAddr(myAddr)
	if err != nil {
		return fmt.Errorf("invalid --my-addr %q: %w", myAddr, err)
	}

	// coreQueue is the serialising boundary spec.md §5 requires: every
	// serial line's reader goroutine posts inbound bytes here instead of
	// calling into the framer directly, and this goroutine — the one
	// that also owns the scheduler below — is the only one that ever
	// drains it, so the single-threaded core is never entered
	// concurrently.
	coreQueue := make(chan func(), 256)

	lines, err := parseSerialLines(serialLines, coreQueue)
	if err != nil {
		return err
	}
	routeEntries, err := parseRoutes(routes)
	if err != nil {
		return err
	}

	s := sched.New()

	var engine *ipstack.Engine
	mux := slip.NewMux(func(datagram []byte) { engine.Receive(datagram) }, slip.WithLogger(log))
	mux.SetLines(lines)

	engine = ipstack.NewEngine(addr, mux,
		ipstack.WithLogger(log),
		ipstack.WithIgnoreChecksum(ignoreChecksum),
	)
	engine.SetRoutes(routeEntries)

	tcpServer := tcpstack.NewServer(addr, engine, s,
		tcpstack.WithLogger(log),
		tcpstack.WithIgnoreChecksum(engine.IgnoreChecksum()),
	)
	tcpServer.Listen(listenPort)
	engine.RegisterTCPHandler(tcpServer.HandleSegment)

	chat := ircapp.NewServer(ircapp.WithLogger(log))
	tcpServer.RegisterAccept(chat.OnAccept)

	log.Info("chatlinkd started", "addr", addr, "port", listenPort, "lines", len(lines), "routes", len(routeEntries))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	for {
		select {
		case fn := <-coreQueue:
			fn()
		case sig := <-sigCh:
			log.Info("received shutdown signal", "signal", sig)
			return nil
		}
	}
}

// parseSerialLines parses --serial-line flags of the form peer=device
// into the peer→serial-line map consumed by slip.Mux.SetLines, per
// spec.md §6's set_serial_lines configuration call. device is resolved
// through newSerialLine, the injected "serial line" capability spec.md
// §1 treats as an external collaborator out of this module's scope.
// coreQueue is threaded through so every line's reader goroutine posts
// inbound bytes onto the same serialising boundary (see run).
func parseSerialLines(specs []string, coreQueue chan<- func()) (map[netip.Addr]slip.SerialLine, error) {
	out := make(map[netip.Addr]slip.SerialLine, len(specs))
	for _, spec := range specs {
		peerStr, device, ok := strings.Cut(spec, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --serial-line %q, want peer=device", spec)
		}
		peer, err := netip.ParseAddr(peerStr)
		if err != nil {
			return nil, fmt.Errorf("invalid --serial-line peer %q: %w", peerStr, err)
		}
		out[peer] = newSerialLine(device, coreQueue)
	}
	return out, nil
}

// parseRoutes parses --route flags of the form cidr=next-hop into
// ipstack.RouteEntry values, per spec.md §6's set_routes configuration
// call.
func parseRoutes(specs []string) ([]ipstack.RouteEntry, error) {
	out := make([]ipstack.RouteEntry, 0, len(specs))
	for _, spec := range specs {
		cidr, nextHopStr, ok := strings.Cut(spec, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --route %q, want cidr=next-hop", spec)
		}
		prefix, err := netip.ParsePrefix(cidr)
		if err != nil {
			return nil, fmt.Errorf("invalid --route prefix %q: %w", cidr, err)
		}
		nextHop, err := netip.ParseAddr(nextHopStr)
		if err != nil {
			return nil, fmt.Errorf("invalid --route next-hop %q: %w", nextHopStr, err)
		}
		out = append(out, ipstack.RouteEntry{Prefix: prefix, NextHop: nextHop})
	}
	return out, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      lvl,
		TimeFormat: time.RFC3339,
	}))
}
