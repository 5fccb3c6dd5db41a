// Package config loads proxkey configuration files.
//
// A single file holds the sections of every binary:
//
//	[anchor]     proxkey-anchor: vehicle identity, link listener, radio, lock
//	[tag]        proxkey-tag: vehicle to reach, reconnect, ranging cadence
//	[authority]  proxkey-authority and the clients that talk to it
//	[logging]    operational log level and protocol capture
//
// Files are TOML, YAML or JSON, chosen by extension. PROXKEY_* environment
// variables override file values, and a Loader can watch the file and
// reload it on change.
package config
