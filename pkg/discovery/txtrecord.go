package discovery

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/proxkey/proxkey-go/pkg/version"
)

// TXTRecordMap is a map of TXT record key-value pairs.
type TXTRecordMap map[string]string

// EncodeAnchorTXT creates the TXT records for an Anchor.
func EncodeAnchorTXT(info *AnchorInfo) TXTRecordMap {
	txt := TXTRecordMap{
		TXTKeyVehicleID:      info.VehicleID,
		TXTKeyServiceUUID:    info.ServiceUUID,
		TXTKeyCharacteristic: info.CharacteristicUUID,
	}
	if info.RangingPort != 0 {
		txt[TXTKeyRangingPort] = strconv.FormatUint(uint64(info.RangingPort), 10)
	}
	txt[TXTKeyProtocol] = info.ProtocolVersion
	if txt[TXTKeyProtocol] == "" {
		txt[TXTKeyProtocol] = version.Current
	}
	return txt
}

// DecodeAnchorTXT parses Anchor TXT records.
func DecodeAnchorTXT(txt TXTRecordMap) (*AnchorInfo, error) {
	info := &AnchorInfo{}

	for key, dst := range map[string]*string{
		TXTKeyVehicleID:      &info.VehicleID,
		TXTKeyServiceUUID:    &info.ServiceUUID,
		TXTKeyCharacteristic: &info.CharacteristicUUID,
	} {
		v, ok := txt[key]
		if !ok || v == "" {
			return nil, fmt.Errorf("%w: %s", ErrMissingRequired, key)
		}
		*dst = v
	}

	if rp, ok := txt[TXTKeyRangingPort]; ok {
		port, err := strconv.ParseUint(rp, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("%w: ranging port %q", ErrInvalidTXTRecord, rp)
		}
		info.RangingPort = uint16(port)
	}
	info.ProtocolVersion = txt[TXTKeyProtocol]

	return info, nil
}

// TXTRecordsToStrings converts a map to sorted "key=value" strings.
func TXTRecordsToStrings(txt TXTRecordMap) []string {
	result := make([]string, 0, len(txt))
	for k, v := range txt {
		result = append(result, k+"="+v)
	}
	sort.Strings(result)
	return result
}

// StringsToTXTRecords parses "key=value" strings. A bare key maps to "".
func StringsToTXTRecords(strs []string) TXTRecordMap {
	txt := make(TXTRecordMap)
	for _, s := range strs {
		k, v, _ := strings.Cut(s, "=")
		if k != "" {
			txt[k] = v
		}
	}
	return txt
}
