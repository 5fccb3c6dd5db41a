package pairing

import (
	"fmt"
	"regexp"
	"strings"
)

// vinPattern is 17 characters excluding I, O and Q.
var vinPattern = regexp.MustCompile(`^[A-HJ-NPR-Z0-9]{17}$`)

// NormalizeVIN trims and upper-cases vin and checks its format.
func NormalizeVIN(vin string) (string, error) {
	v := strings.ToUpper(strings.TrimSpace(vin))
	if !vinPattern.MatchString(v) {
		return "", fmt.Errorf("%w: %q", ErrInvalidVIN, vin)
	}
	return v, nil
}

// ValidVIN reports whether vin is a well-formed VIN.
func ValidVIN(vin string) bool {
	_, err := NormalizeVIN(vin)
	return err == nil
}
