// Package version provides command protocol version parsing and
// compatibility checks.
package version

import (
	"fmt"
	"strconv"
	"strings"
)

// Current is the command protocol version implemented by this module.
const Current = "1.0"

// ProtocolVersion is a parsed "major.minor" protocol version.
type ProtocolVersion struct {
	Major uint16
	Minor uint16
}

// Parse parses a "major.minor" version string.
func Parse(s string) (ProtocolVersion, error) {
	major, minor, ok := strings.Cut(s, ".")
	if !ok || strings.Contains(minor, ".") {
		return ProtocolVersion{}, fmt.Errorf("invalid version %q: expected major.minor", s)
	}

	maj, err := strconv.ParseUint(major, 10, 16)
	if err != nil {
		return ProtocolVersion{}, fmt.Errorf("invalid version %q: bad major component", s)
	}
	mnr, err := strconv.ParseUint(minor, 10, 16)
	if err != nil {
		return ProtocolVersion{}, fmt.Errorf("invalid version %q: bad minor component", s)
	}

	return ProtocolVersion{Major: uint16(maj), Minor: uint16(mnr)}, nil
}

// MustParse is like Parse but panics on error. For constants only.
func MustParse(s string) ProtocolVersion {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// String returns the version as "major.minor".
func (v ProtocolVersion) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// Compatible reports whether other speaks the same major version.
func (v ProtocolVersion) Compatible(other ProtocolVersion) bool {
	return v.Major == other.Major
}

// Supported reports whether a peer advertising s can talk to this module.
// An empty string is a peer that predates version advertisement and is
// treated as 1.0.
func Supported(s string) bool {
	if s == "" {
		s = "1.0"
	}
	peer, err := Parse(s)
	if err != nil {
		return false
	}
	return MustParse(Current).Compatible(peer)
}
