package model

import "fmt"

// Carrier is the shipping company moving a package.
type Carrier string

const (
	CarrierUnknown Carrier = ""
	CarrierUPS     Carrier = "UPS"
	CarrierFedEx   Carrier = "FedEx"
	CarrierUSPS    Carrier = "USPS"
	CarrierAmazon  Carrier = "Amazon"
)

// Carriers lists the supported carriers in a stable order.
func Carriers() []Carrier {
	return []Carrier{CarrierUPS, CarrierFedEx, CarrierUSPS, CarrierAmazon}
}

func (c Carrier) String() string {
	if c == CarrierUnknown {
		return "unknown"
	}
	return string(c)
}

// Organization is the reselling group presumed to have originated a purchase.
type Organization string

const (
	OrganizationUnknown Organization = ""
	OrgA                Organization = "OrgA"
	OrgB                Organization = "OrgB"
	OrgC                Organization = "OrgC"
	OrgD                Organization = "OrgD"
)

// Organizations lists the known organizations in a stable order.
func Organizations() []Organization {
	return []Organization{OrgA, OrgB, OrgC, OrgD}
}

// ParseOrganization maps a configured name onto the closed enumeration.
func ParseOrganization(name string) (Organization, error) {
	for _, org := range Organizations() {
		if string(org) == name {
			return org, nil
		}
	}
	return OrganizationUnknown, fmt.Errorf("unknown organization %q", name)
}

func (o Organization) String() string {
	if o == OrganizationUnknown {
		return "unknown"
	}
	return string(o)
}
