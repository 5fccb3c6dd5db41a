// Command proxkey-tag runs the owner side of proxkey.
//
// The Tag pairs with a vehicle through the authority, finds the Anchor over
// mDNS (or a fixed address), establishes a session and requests unlocks.
// With a simulated radio configured it also ranges to the Anchor.
//
// Usage:
//
//	proxkey-tag [flags] [command]
//
// Commands:
//
//	shell   Interactive shell (default)
//	pair    Pair with the vehicle and exit
//	unlock  Connect, exchange keys, request an unlock and exit
//	status  Show pairing and cached Anchor information
//
// Flags:
//
//	-config string      Configuration file (TOML, YAML or JSON)
//	-vehicle string     Vehicle ID
//	-device string      Device ID sent with vehicle key requests
//	-anchor string      Anchor link address (empty uses mDNS)
//	-radio string       Local UDP address of the simulated radio (empty disables ranging)
//	-radio-peer string  Anchor radio address (empty uses mDNS)
//	-data-dir string    Directory for keys and state
//	-authority string   Authority base URL
//	-capture string     Protocol capture file
//	-log-level string   Log level: debug, info, warn, error
//	-version            Show version information
//
// Examples:
//
//	# Pair, then open the shell with ranging enabled
//	proxkey-tag -vehicle VIN123456 pair
//	proxkey-tag -vehicle VIN123456 -radio :0
//
//	# One-shot unlock against a known address
//	proxkey-tag -vehicle VIN123456 -anchor 192.168.1.20:7400 unlock
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/proxkey/proxkey-go/pkg/config"
)

// Version information - set at build time via ldflags
var (
	Version   = "0.1.0"
	BuildDate = "dev"
	GitCommit = "unknown"
)

var (
	configPath   = flag.String("config", "", "Configuration file (TOML, YAML or JSON)")
	vehicleID    = flag.String("vehicle", "", "Vehicle ID")
	deviceID     = flag.String("device", "", "Device ID sent with vehicle key requests")
	anchorAddr   = flag.String("anchor", "", "Anchor link address (empty uses mDNS)")
	radio        = flag.String("radio", "", "Local UDP address of the simulated radio (empty disables ranging)")
	radioPeer    = flag.String("radio-peer", "", "Anchor radio address (empty uses mDNS)")
	dataDir      = flag.String("data-dir", "", "Directory for keys and state")
	authorityURL = flag.String("authority", "", "Authority base URL")
	capturePath  = flag.String("capture", "", "Protocol capture file")
	logLevel     = flag.String("log-level", "", "Log level: debug, info, warn, error")
	showVersion  = flag.Bool("version", false, "Show version information")
)

func main() {
	os.Exit(run())
}

func run() int {
	flag.Parse()

	if *showVersion {
		fmt.Printf("proxkey-tag %s (built %s, commit %s)\n", Version, BuildDate, GitCommit)
		return 0
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	applyFlags(cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	setupLogging(cfg.Logging.Level)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cmd := flag.Arg(0)
	switch cmd {
	case "", "shell":
		err = runShell(ctx, cancel, cfg, *configPath)
	case "pair":
		err = pairOnce(ctx, cfg)
	case "unlock":
		err = unlockOnce(ctx, cfg)
	case "status":
		err = status(cfg)
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n", cmd)
		flag.Usage()
		return 2
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// applyFlags overrides file values with flags given on the command line.
func applyFlags(cfg *config.Config) {
	t := &cfg.Tag
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "vehicle":
			t.VehicleID = *vehicleID
		case "device":
			t.DeviceID = *deviceID
		case "anchor":
			t.AnchorAddr = *anchorAddr
		case "radio":
			t.RadioListen = *radio
		case "radio-peer":
			t.RadioPeer = *radioPeer
		case "data-dir":
			t.DataDir = *dataDir
		case "authority":
			cfg.Authority.URL = *authorityURL
		case "capture":
			cfg.Logging.CaptureFile = *capturePath
		case "log-level":
			cfg.Logging.Level = *logLevel
		}
	})
}

func setupLogging(level string) {
	log.SetFlags(log.Ltime | log.Lmicroseconds)
	if level == "debug" {
		log.SetFlags(log.Ltime | log.Lmicroseconds | log.Lshortfile)
	}
}

func keysDir(cfg *config.Config) string {
	return filepath.Join(cfg.Tag.DataDir, "keys")
}

func statePath(cfg *config.Config) string {
	return filepath.Join(cfg.Tag.DataDir, "state.json")
}
