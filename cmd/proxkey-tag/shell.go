package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chzyer/readline"

	"github.com/proxkey/proxkey-go/pkg/config"
	"github.com/proxkey/proxkey-go/pkg/fsm"
	"github.com/proxkey/proxkey-go/pkg/ranging"
)

func runShell(ctx context.Context, cancel context.CancelFunc, cfg *config.Config, configPath string) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "tag> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	log.SetOutput(rl.Stderr())
	logger := cfg.Logging.NewLogger(rl.Stderr())

	n, err := newNode(cfg, logger)
	if err != nil {
		rl.Close()
		return err
	}
	defer n.Close()

	go func() {
		if err := n.tag.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("tag: stopped", "error", err)
		}
	}()

	if configPath != "" {
		loader := config.NewLoader(configPath, logger)
		if _, err := loader.Load(); err == nil {
			loader.OnChange(func(_, c *config.Config) { n.applyConfig(c.Tag) })
			if err := loader.Watch(); err != nil {
				logger.Warn("tag: config watch failed", "error", err)
			}
			defer loader.Close()
		}
	}

	sh := &shell{node: n, rl: rl, out: rl.Stdout()}
	sh.Run(ctx, cancel)
	sh.stopRangeLoop()
	return nil
}

// shell is the interactive Tag console.
type shell struct {
	node *node
	rl   *readline.Instance
	out  io.Writer

	mu       sync.Mutex
	loopStop context.CancelFunc
	loopDone chan struct{}
}

// Run starts the interactive command loop.
func (s *shell) Run(ctx context.Context, cancel context.CancelFunc) {
	defer s.rl.Close()

	s.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := s.rl.Readline()
		if err != nil {
			// EOF or interrupt
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(s.out, "Exiting...")
			cancel()
			return
		}

		if !s.exec(ctx, line) {
			fmt.Fprintln(s.out, "Exiting...")
			cancel()
			return
		}
	}
}

// exec runs one command line. It returns false when the shell should exit.
func (s *shell) exec(ctx context.Context, line string) bool {
	input := strings.TrimSpace(line)
	if input == "" {
		return true
	}

	parts := strings.Fields(input)
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		s.printHelp()

	case "pair", "p":
		s.cmdPair(ctx)

	case "check":
		s.cmdCheck(ctx)

	case "vkey", "vehicle-key":
		s.cmdVehicleKey(ctx, args)

	case "connect", "c":
		s.cmdConnect(ctx)

	case "kx", "key-exchange":
		s.report("key exchange", s.node.tag.KeyExchange(ctx))

	case "unlock", "u":
		s.report("unlock", s.node.tag.RequestUnlock(ctx))

	case "range", "r":
		s.cmdRange(ctx, args)

	case "status", "s":
		s.cmdStatus()

	case "unpair":
		s.cmdUnpair()

	case "quit", "exit", "q":
		return false

	default:
		fmt.Fprintf(s.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return true
}

func (s *shell) printHelp() {
	fmt.Fprintln(s.out, `
Commands:
  pair, p               Pair with the vehicle through the authority
  check                 Ask the authority for the pairing status
  vkey <vin>            Request a vehicle key for a VIN
  connect, c            Connect to the Anchor
  kx                    Run a key exchange
  unlock, u             Request an unlock
  range, r [n]          Range n times (default 1)
  range start|stop      Range continuously at the configured interval
  status, s             Show pairing, session and link state
  unpair                Remove the pairing key and vehicle key
  help, ?               Show this help
  quit, q               Exit`)
}

func (s *shell) report(what string, err error) {
	if err != nil {
		fmt.Fprintf(s.out, "%s failed: %v\n", what, err)
		return
	}
	fmt.Fprintf(s.out, "%s OK\n", what)
}

func (s *shell) cmdPair(ctx context.Context) {
	pk, err := s.node.pairer.Pair(ctx)
	if err != nil {
		fmt.Fprintf(s.out, "pairing failed: %v\n", err)
		return
	}
	s.node.session.ReloadPairing()
	fmt.Fprintf(s.out, "Paired with %s (pairing %s)\n", s.node.pairer.VehicleID(), pk.PairingID)
}

func (s *shell) cmdCheck(ctx context.Context) {
	st, err := s.node.pairer.CheckStatus(ctx)
	if err != nil {
		fmt.Fprintf(s.out, "status check failed: %v\n", err)
		return
	}
	if !st.Paired {
		fmt.Fprintf(s.out, "%s is not paired at the authority\n", st.VehicleID)
		return
	}
	fmt.Fprintf(s.out, "%s paired (pairing %s, at %s)\n", st.VehicleID, st.PairingID, st.PairedAt)
}

func (s *shell) cmdVehicleKey(ctx context.Context, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(s.out, "usage: vkey <vin>")
		return
	}
	vk, err := s.node.pairer.RequestVehicleKey(ctx, args[0], s.node.cfg.DeviceID)
	if err != nil {
		fmt.Fprintf(s.out, "vehicle key failed: %v\n", err)
		return
	}
	fmt.Fprintf(s.out, "Vehicle key stored for %s\n", vk.VIN)
}

func (s *shell) cmdConnect(ctx context.Context) {
	if s.node.tag.IsConnected() {
		fmt.Fprintln(s.out, "already connected")
		return
	}
	if err := s.node.tag.Connect(ctx); err != nil {
		fmt.Fprintf(s.out, "connect failed: %v (retrying in background)\n", err)
		return
	}
	s.node.recordConnected()
	fmt.Fprintln(s.out, "connected")
}

func (s *shell) cmdRange(ctx context.Context, args []string) {
	count := 1
	if len(args) > 0 {
		switch strings.ToLower(args[0]) {
		case "start":
			s.startRangeLoop(ctx)
			return
		case "stop":
			s.stopRangeLoop()
			s.node.tag.StopRanging()
			fmt.Fprintln(s.out, "ranging stopped")
			return
		}
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			fmt.Fprintf(s.out, "invalid count: %s\n", args[0])
			return
		}
		count = n
	}

	for i := 0; i < count; i++ {
		m, smoothed, err := s.rangeOnce(ctx)
		s.printMeasurement(m, smoothed, err)
		if errors.Is(err, fsm.ErrNoRadio) || errors.Is(err, fsm.ErrNoSession) || errors.Is(err, fsm.ErrDenied) {
			return
		}
	}
}

// rangeOnce arms ranging on first use.
func (s *shell) rangeOnce(ctx context.Context) (*ranging.Measurement, float64, error) {
	m, smoothed, err := s.node.tag.RangeOnce(ctx)
	if !errors.Is(err, fsm.ErrRangingNotStarted) {
		return m, smoothed, err
	}
	if err := s.node.tag.StartRanging(ctx); err != nil {
		return nil, 0, err
	}
	return s.node.tag.RangeOnce(ctx)
}

func (s *shell) startRangeLoop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loopStop != nil {
		fmt.Fprintln(s.out, "ranging already running")
		return
	}
	if err := s.node.tag.StartRanging(ctx); err != nil {
		fmt.Fprintf(s.out, "ranging failed: %v\n", err)
		return
	}

	loopCtx, stop := context.WithCancel(ctx)
	done := make(chan struct{})
	s.loopStop = stop
	s.loopDone = done

	interval := s.node.rangingInterval()
	go func() {
		defer close(done)
		err := s.node.tag.RangeLoop(loopCtx, interval, s.printMeasurement)
		if err != nil && !errors.Is(err, context.Canceled) {
			fmt.Fprintf(s.out, "ranging ended: %v\n", err)
		}
	}()
	fmt.Fprintf(s.out, "ranging every %s\n", interval)
}

func (s *shell) stopRangeLoop() {
	s.mu.Lock()
	stop, done := s.loopStop, s.loopDone
	s.loopStop, s.loopDone = nil, nil
	s.mu.Unlock()

	if stop != nil {
		stop()
		<-done
	}
}

func (s *shell) printMeasurement(m *ranging.Measurement, smoothed float64, err error) {
	if err != nil {
		fmt.Fprintf(s.out, "range failed: %v\n", err)
		return
	}
	s.node.recordDistance(smoothed)
	fmt.Fprintf(s.out, "seq=%d distance=%.2f m smoothed=%.2f m tof=%.3f ns\n",
		m.Seq, m.DistanceM, smoothed, m.TimeOfFlight*1e9)
}

func (s *shell) cmdStatus() {
	t := s.node.tag
	fmt.Fprintf(s.out, "State:       %s\n", t.State())
	fmt.Fprintf(s.out, "Link:        %s\n", t.ConnectionState())
	fmt.Fprintf(s.out, "Paired:      %v\n", s.node.session.HasPairingKey())
	if at, ok := s.node.session.EstablishedAt(); ok && s.node.session.IsValid() {
		left := s.node.session.Timeout() - time.Since(at)
		fmt.Fprintf(s.out, "Session:     valid (%s left)\n", left.Round(time.Second))
	} else {
		fmt.Fprintln(s.out, "Session:     none")
	}
	if d, n := t.Distance(); n > 0 {
		fmt.Fprintf(s.out, "Distance:    %.2f m (%d samples)\n", d, n)
	}
}

func (s *shell) cmdUnpair() {
	s.stopRangeLoop()
	if err := s.node.pairer.Unpair(); err != nil {
		fmt.Fprintf(s.out, "unpair failed: %v\n", err)
		return
	}
	s.node.session.Clear()
	s.node.session.ReloadPairing()
	fmt.Fprintln(s.out, "unpaired")
}
