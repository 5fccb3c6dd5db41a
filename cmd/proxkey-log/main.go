// Command proxkey-log views and analyzes protocol capture files.
//
// Capture files are written by proxkey-anchor and proxkey-tag when started
// with -capture.
//
// Usage:
//
//	proxkey-log <command> [flags] <file.pklog>
//
// Commands:
//
//	view     View a capture in human-readable format
//	export   Export a capture to JSONL, CSV or YAML
//	filter   Filter a capture and write a new file
//	stats    Show statistics about a capture
//
// Examples:
//
//	# View all events
//	proxkey-log view anchor.pklog
//
//	# View only command-layer events sent by the Anchor
//	proxkey-log view --layer command --direction out anchor.pklog
//
//	# Export ranging results to CSV
//	proxkey-log export --layer ranging --format csv tag.pklog
//
//	# Keep one connection
//	proxkey-log filter --conn-id 3f2a9c1e -o one.pklog anchor.pklog
//
//	# Show statistics
//	proxkey-log stats anchor.pklog
package main

import (
	"os"

	"github.com/proxkey/proxkey-go/cmd/proxkey-log/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
