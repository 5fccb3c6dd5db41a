package discovery

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/proxkey/proxkey-go/pkg/version"
)

// Service constants.
const (
	// ServiceType is the DNS-SD service type of an Anchor.
	ServiceType = "_proxkey._tcp"

	// Domain is the mDNS domain.
	Domain = "local"

	// DefaultPort is the default Anchor link port.
	DefaultPort = 7400

	// InstancePrefix starts every Anchor instance name.
	InstancePrefix = "PROXKEY-"

	// BrowseTimeout is the default time limit for finding an Anchor.
	BrowseTimeout = 10 * time.Second

	// MaxInstanceNameLen is the DNS label limit.
	MaxInstanceNameLen = 63
)

// TXT record keys.
const (
	TXTKeyVehicleID      = "VI"
	TXTKeyServiceUUID    = "SU"
	TXTKeyCharacteristic = "CU"
	TXTKeyRangingPort    = "RP"
	TXTKeyProtocol       = "PV"
)

// Discovery errors.
var (
	ErrMissingRequired  = errors.New("missing required field")
	ErrInvalidTXTRecord = errors.New("invalid TXT record format")
	ErrNotFound         = errors.New("anchor not found")
)

// AnchorInfo is what an Anchor advertises.
type AnchorInfo struct {
	VehicleID          string
	ServiceUUID        string
	CharacteristicUUID string

	// Port is the TCP link port. Zero means DefaultPort.
	Port uint16

	// RangingPort is the UDP port of the simulated radio, if any.
	RangingPort uint16

	// ProtocolVersion is the command protocol version. Empty advertises
	// version.Current.
	ProtocolVersion string
}

// InstanceName returns the DNS-SD instance name for the vehicle.
func (a *AnchorInfo) InstanceName() string {
	name := InstancePrefix + a.VehicleID
	if len(name) > MaxInstanceNameLen {
		name = name[:MaxInstanceNameLen]
	}
	return name
}

// AnchorService is a discovered Anchor.
type AnchorService struct {
	AnchorInfo

	InstanceName string
	Host         string
	Addresses    []string
}

// Addr returns host:port for the first address, preferring IPv4.
func (s *AnchorService) Addr() (string, error) {
	if len(s.Addresses) == 0 {
		return "", fmt.Errorf("%w: %s has no addresses", ErrNotFound, s.InstanceName)
	}
	pick := s.Addresses[0]
	for _, a := range s.Addresses {
		if ip := net.ParseIP(a); ip != nil && ip.To4() != nil {
			pick = a
			break
		}
	}
	return net.JoinHostPort(pick, strconv.Itoa(int(s.Port))), nil
}

// RangingAddr returns host:port of the simulated radio, or "" if none is
// advertised.
func (s *AnchorService) RangingAddr() string {
	if s.RangingPort == 0 {
		return ""
	}
	addr, err := s.Addr()
	if err != nil {
		return ""
	}
	host, _, _ := net.SplitHostPort(addr)
	return net.JoinHostPort(host, strconv.Itoa(int(s.RangingPort)))
}

// Matches reports whether the service belongs to vehicleID, exposes
// serviceUUID if given, and speaks a compatible protocol version.
func (s *AnchorService) Matches(vehicleID, serviceUUID string) bool {
	if vehicleID != "" && s.VehicleID != vehicleID {
		return false
	}
	if serviceUUID != "" && s.ServiceUUID != serviceUUID {
		return false
	}
	return version.Supported(s.ProtocolVersion)
}
