package discovery

import (
	"errors"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testInfo() AnchorInfo {
	return AnchorInfo{
		VehicleID:          "VIN123456",
		ServiceUUID:        "12345678-1234-5678-1234-56789abcdef0",
		CharacteristicUUID: "abcdef12-3456-7890-abcd-ef1234567890",
		Port:               7400,
		RangingPort:        7401,
	}
}

func TestAnchorTXTRoundTrip(t *testing.T) {
	info := testInfo()
	strs := TXTRecordsToStrings(EncodeAnchorTXT(&info))
	assert.Equal(t, []string{
		"CU=abcdef12-3456-7890-abcd-ef1234567890",
		"PV=1.0",
		"RP=7401",
		"SU=12345678-1234-5678-1234-56789abcdef0",
		"VI=VIN123456",
	}, strs)

	got, err := DecodeAnchorTXT(StringsToTXTRecords(strs))
	require.NoError(t, err)
	assert.Equal(t, info.VehicleID, got.VehicleID)
	assert.Equal(t, info.ServiceUUID, got.ServiceUUID)
	assert.Equal(t, info.CharacteristicUUID, got.CharacteristicUUID)
	assert.Equal(t, uint16(7401), got.RangingPort)
	assert.Equal(t, "1.0", got.ProtocolVersion)
}

func TestDecodeAnchorTXTErrors(t *testing.T) {
	tests := []struct {
		name string
		txt  TXTRecordMap
		want error
	}{
		{"missing vehicle", TXTRecordMap{TXTKeyServiceUUID: "s", TXTKeyCharacteristic: "c"}, ErrMissingRequired},
		{"empty service", TXTRecordMap{TXTKeyVehicleID: "v", TXTKeyServiceUUID: "", TXTKeyCharacteristic: "c"}, ErrMissingRequired},
		{"bad ranging port", TXTRecordMap{TXTKeyVehicleID: "v", TXTKeyServiceUUID: "s", TXTKeyCharacteristic: "c", TXTKeyRangingPort: "99999"}, ErrInvalidTXTRecord},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeAnchorTXT(tt.txt)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestStringsToTXTRecords(t *testing.T) {
	txt := StringsToTXTRecords([]string{"VI=abc=def", "flag", ""})
	assert.Equal(t, "abc=def", txt["VI"])
	v, ok := txt["flag"]
	assert.True(t, ok)
	assert.Empty(t, v)
	assert.Len(t, txt, 2)
}

func TestInstanceName(t *testing.T) {
	info := testInfo()
	assert.Equal(t, "PROXKEY-VIN123456", info.InstanceName())

	info.VehicleID = strings.Repeat("X", 80)
	assert.Len(t, info.InstanceName(), MaxInstanceNameLen)
}

func TestNewAnchorService(t *testing.T) {
	info := testInfo()
	text := TXTRecordsToStrings(EncodeAnchorTXT(&info))

	svc := newAnchorService("PROXKEY-VIN123456", "car.local.", 7400, text,
		[]net.IP{net.ParseIP("fe80::1"), net.ParseIP("192.168.1.20")})
	require.NotNil(t, svc)

	addr, err := svc.Addr()
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.20:7400", addr)
	assert.Equal(t, "192.168.1.20:7401", svc.RangingAddr())

	assert.True(t, svc.Matches("VIN123456", info.ServiceUUID))
	assert.True(t, svc.Matches("VIN123456", ""))
	assert.False(t, svc.Matches("OTHER", ""))
	assert.False(t, svc.Matches("VIN123456", "00000000-0000-0000-0000-000000000000"))

	svc.ProtocolVersion = "2.0"
	assert.False(t, svc.Matches("VIN123456", ""), "incompatible protocol major")

	assert.Nil(t, newAnchorService("printer", "p.local.", 631, []string{"rp=ipp"}, nil))
}

func TestAnchorServiceAddrIPv6Only(t *testing.T) {
	svc := &AnchorService{AnchorInfo: AnchorInfo{Port: 7400}, Addresses: []string{"fe80::1"}}
	addr, err := svc.Addr()
	require.NoError(t, err)
	assert.Equal(t, "[fe80::1]:7400", addr)
	assert.Empty(t, svc.RangingAddr())

	_, err = (&AnchorService{InstanceName: "x"}).Addr()
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMergeAddresses(t *testing.T) {
	got := mergeAddresses([]string{"10.0.0.1"}, []string{"10.0.0.1", "fe80::1"})
	assert.Equal(t, []string{"10.0.0.1", "fe80::1"}, got)
}
