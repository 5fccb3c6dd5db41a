// Package discovery advertises and finds Anchors over mDNS/DNS-SD.
//
// In the development setup the link runs over TCP on a local network, so a
// Tag locates the Anchor of its vehicle the way a BLE central would scan
// for the vehicle's advertised service.
//
// # Service (_proxkey._tcp)
//
// Instance name format: PROXKEY-<vehicle-id>
//
// TXT records:
//   - VI: vehicle ID (required)
//   - SU: link service UUID (required)
//   - CU: command characteristic UUID (required)
//   - RP: ranging UDP port (optional)
//
// A browser matches an Anchor by vehicle ID and service UUID.
package discovery
