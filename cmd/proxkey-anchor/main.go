// Command proxkey-anchor runs the vehicle side of proxkey.
//
// The Anchor listens for a Tag on a TCP link, advertises itself over mDNS,
// runs the command protocol and, when a simulated radio is configured,
// answers ranging polls over UDP.
//
// Usage:
//
//	proxkey-anchor [flags] [command]
//
// Commands:
//
//	run        Run the Anchor (default)
//	provision  Fetch the vehicle's pairing key from the authority
//	status     Show provisioning, lock state and counters
//	reset      Remove the pairing key, session and runtime state
//
// Flags:
//
//	-config string     Configuration file (TOML, YAML or JSON)
//	-vehicle string    Vehicle ID
//	-listen string     TCP link address (default ":7400")
//	-radio string      UDP address of the simulated radio (empty disables ranging)
//	-distance float    Simulated distance to the Tag in meters
//	-data-dir string   Directory for keys and state
//	-authority string  Authority base URL
//	-capture string    Protocol capture file
//	-log-level string  Log level: debug, info, warn, error
//	-no-advertise      Do not advertise over mDNS
//	-version           Show version information
//
// Examples:
//
//	# Provision from a local authority, then run with ranging enabled
//	proxkey-anchor -vehicle VIN123456 provision
//	proxkey-anchor -vehicle VIN123456 -radio :7401 -distance 1.2
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
	listen       = flag.String("listen", "", "TCP link address")
	radio        = flag.String("radio", "", "UDP address of the simulated radio (empty disables ranging)")
	distance     = flag.Float64("distance", 0, "Simulated distance to the Tag in meters")
	dataDir      = flag.String("data-dir", "", "Directory for keys and state")
	authorityURL = flag.String("authority", "", "Authority base URL")
	capturePath  = flag.String("capture", "", "Protocol capture file")
	logLevel     = flag.String("log-level", "", "Log level: debug, info, warn, error")
	noAdvertise  = flag.Bool("no-advertise", false, "Do not advertise over mDNS")
	showVersion  = flag.Bool("version", false, "Show version information")
)

func main() {
	os.Exit(run())
}

func run() int {
	flag.Parse()

	if *showVersion {
		fmt.Printf("proxkey-anchor %s (built %s, commit %s)\n", Version, BuildDate, GitCommit)
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
	logger := cfg.Logging.NewLogger(os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := flag.Arg(0)
	switch cmd {
	case "", "run":
		err = runAnchor(ctx, cfg, logger)
	case "provision":
		err = provision(ctx, cfg)
	case "status":
		err = status(cfg)
	case "reset":
		err = reset(cfg)
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
	a := &cfg.Anchor
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "vehicle":
			a.VehicleID = *vehicleID
		case "listen":
			a.Listen = *listen
		case "radio":
			a.RadioListen = *radio
		case "distance":
			a.SimDistanceM = *distance
		case "data-dir":
			a.DataDir = *dataDir
		case "authority":
			cfg.Authority.URL = *authorityURL
		case "capture":
			cfg.Logging.CaptureFile = *capturePath
		case "log-level":
			cfg.Logging.Level = *logLevel
		case "no-advertise":
			a.Advertise = !*noAdvertise
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
	return filepath.Join(cfg.Anchor.DataDir, "keys")
}

func statePath(cfg *config.Config) string {
	return filepath.Join(cfg.Anchor.DataDir, "state.json")
}
