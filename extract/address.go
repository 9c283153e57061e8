// Package extract pulls delivery addresses and tracking ids out of
// carrier shipment notifications.
package extract

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dhcgn/parcelscan/model"
)

// UnitKeywords start the secondary address line.
var UnitKeywords = []string{"STE", "UNIT", "APT", "DEPT", "RM", "FL", "BLDG"}

var (
	// Greedy prefix: the last keyword occurrence starts line2. A keyword
	// directly followed by a letter ("FLOWER") is not a keyword.
	streetPattern   = regexp.MustCompile(`^(.*) ((?:` + strings.Join(UnitKeywords, "|") + `)(?:[^A-Za-z].*)?)$`)
	localityPattern = regexp.MustCompile(`([^,]*), ([A-Z]{2}).*?([0-9]{5})`)
)

// ParseAddress builds an Address from the street line and the
// "City, ST 12345" line. A street line without a unit keyword is rejected.
func ParseAddress(line1And2, cityStateZip string) (model.Address, error) {
	street := strings.TrimSpace(line1And2)
	m := streetPattern.FindStringSubmatch(street)
	if m == nil {
		return model.Address{}, fmt.Errorf("%w: no unit keyword in street line %q", model.ErrPatternMismatch, street)
	}

	loc := localityPattern.FindStringSubmatch(cityStateZip)
	if loc == nil {
		return model.Address{}, fmt.Errorf("%w: unrecognized city/state/zip %q", model.ErrPatternMismatch, cityStateZip)
	}

	return model.Address{
		Line1:   strings.TrimSpace(m[1]),
		Line2:   strings.TrimSpace(m[2]),
		City:    strings.TrimSpace(loc[1]),
		State:   loc[2],
		Zipcode: loc[3],
	}, nil
}
