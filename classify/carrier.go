// Package classify derives carriers and organizations from message and
// purchase data.
package classify

import (
	"regexp"
	"strings"

	"github.com/dhcgn/parcelscan/model"
)

var senderDomains = []struct {
	domain  string
	carrier model.Carrier
}{
	{"ups.com", model.CarrierUPS},
	{"fedex.com", model.CarrierFedEx},
	{"amazon.com", model.CarrierAmazon},
}

// BySender maps a From header onto a carrier. USPS has no sender rule.
func BySender(from string) model.Carrier {
	from = strings.ToLower(from)
	for _, rule := range senderDomains {
		if strings.Contains(from, rule.domain) {
			return rule.carrier
		}
	}
	return model.CarrierUnknown
}

type numberRule struct {
	prefix  string
	pattern *regexp.Regexp
	carrier model.Carrier
}

// Prefix rules run before full-match rules; first hit wins.
var numberRules = []numberRule{
	{prefix: "TBA", carrier: model.CarrierAmazon},
	{prefix: "1Z", carrier: model.CarrierUPS},
	{pattern: regexp.MustCompile(`^[0-9]{20}$`), carrier: model.CarrierUSPS},
	{pattern: regexp.MustCompile(`^[A-Z]{2}[0-9]{9}[A-Z]{2}$`), carrier: model.CarrierUSPS},
	{pattern: regexp.MustCompile(`^[0-9]{12}$`), carrier: model.CarrierFedEx},
	{pattern: regexp.MustCompile(`^[0-9]{15}$`), carrier: model.CarrierFedEx},
}

// ByTrackingNumber maps the lexical shape of a tracking number onto a carrier.
func ByTrackingNumber(trackingID string) model.Carrier {
	for _, rule := range numberRules {
		if rule.prefix != "" {
			if strings.HasPrefix(trackingID, rule.prefix) {
				return rule.carrier
			}
			continue
		}
		if rule.pattern.MatchString(trackingID) {
			return rule.carrier
		}
	}
	return model.CarrierUnknown
}
