package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhcgn/parcelscan/model"
)

func TestBySender(t *testing.T) {
	tests := []struct {
		from string
		want model.Carrier
	}{
		{"UPS <pkginfo@UPS.com>", model.CarrierUPS},
		{"TrackingUpdates@fedex.com", model.CarrierFedEx},
		{"\"Amazon.com\" <shipment-tracking@amazon.com>", model.CarrierAmazon},
		{"USPS Informed Delivery <USPSInformeddelivery@email.informeddelivery.usps.com>", model.CarrierUnknown},
		{"", model.CarrierUnknown},
		// ups.com wins over amazon.com because it is checked first.
		{"ups.com via amazon.com", model.CarrierUPS},
	}

	for _, tt := range tests {
		t.Run(tt.from, func(t *testing.T) {
			assert.Equal(t, tt.want, BySender(tt.from))
		})
	}
}

func TestByTrackingNumber(t *testing.T) {
	tests := []struct {
		name string
		id   string
		want model.Carrier
	}{
		{"amazon prefix", "TBA123456789012", model.CarrierAmazon},
		{"ups prefix", "1Z9999999999999999", model.CarrierUPS},
		{"usps 20 digits", "420123456789012345678901"[:20], model.CarrierUSPS},
		{"usps international", "EC123456789US", model.CarrierUSPS},
		{"fedex 12 digits", "123456789012", model.CarrierFedEx},
		{"fedex 15 digits", "123456789012345", model.CarrierFedEx},
		{"usps 24 digits is not full match", "420123456789012345678901", model.CarrierUnknown},
		{"13 digits", "1234567890123", model.CarrierUnknown},
		{"lowercase international", "ec123456789us", model.CarrierUnknown},
		{"empty", "", model.CarrierUnknown},
		{"garbage", "not a number \n", model.CarrierUnknown},
		{"prefix before full match", "1Z3456789012", model.CarrierUPS},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ByTrackingNumber(tt.id))
		})
	}
}

func TestDefaultOrganizations(t *testing.T) {
	orgs := DefaultOrganizations()

	tests := []struct {
		line1 string
		want  model.Organization
	}{
		{"144 Quigley Blvd", model.OrgA},
		{"118 Park Ave", model.OrgB},
		{"200 Bedford Falls Rd", model.OrgB},
		{"382 W Rte 59", model.OrgC},
		{"382 Route 59", model.OrgC},
		{"51 W Broadway", model.OrgD},
		{"112 Broadway", model.OrgD},
		{"44 Indian Rock Rd", model.OrgD},
		{"9 Main St", model.OrgD},
		{"999 Nowhere Ave", model.OrganizationUnknown},
		{"", model.OrganizationUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.line1, func(t *testing.T) {
			assert.Equal(t, tt.want, orgs.Classify(model.Address{Line1: tt.line1}))
		})
	}
}

func TestOrganizationsFirstRuleWins(t *testing.T) {
	orgs := NewOrganizations([]Rule{
		{Organization: model.OrgB, Contains: []string{"MAIN"}},
		{Organization: model.OrgA, Contains: []string{"1 MAIN"}},
	})
	assert.Equal(t, model.OrgB, orgs.Classify(model.Address{Line1: "1 Main St"}))
}

func TestParseOrganizations(t *testing.T) {
	orgs, err := ParseOrganizations([]byte(`
rules:
  - organization: OrgC
    contains: ["77", " harbor "]
`))
	require.NoError(t, err)
	require.Len(t, orgs.Rules(), 1)
	assert.Equal(t, []string{"77", "HARBOR"}, orgs.Rules()[0].Contains)
	assert.Equal(t, model.OrgC, orgs.Classify(model.Address{Line1: "77 Harbor Way"}))
	assert.Equal(t, model.OrganizationUnknown, orgs.Classify(model.Address{Line1: "77 Main St"}))
}

func TestParseOrganizationsRejectsInvalidRules(t *testing.T) {
	tests := map[string]string{
		"unknown organization": "rules:\n  - organization: MYS\n    contains: [\"144 QUIGLEY\"]\n",
		"empty contains":       "rules:\n  - organization: OrgA\n    contains: [\" \"]\n",
		"bad yaml":             "rules: [",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseOrganizations([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadOrganizationsEmptyPathUsesDefaults(t *testing.T) {
	orgs, err := LoadOrganizations("")
	require.NoError(t, err)
	assert.Equal(t, len(DefaultOrganizations().Rules()), len(orgs.Rules()))
}

func TestAssemblerDerivesFields(t *testing.T) {
	a := NewAssembler(nil)
	meta := model.MessageMeta{ID: "m1", From: "shipment-tracking@amazon.com"}
	addr := model.Address{Line1: "144 Quigley Blvd", Line2: "STE 1", City: "New Castle", State: "DE", Zipcode: "19720"}

	p := a.Assemble(meta, "1Z999AA10123456784", addr)

	assert.Equal(t, model.CarrierUPS, p.Carrier)
	assert.Equal(t, model.CarrierAmazon, p.SenderCarrier)
	assert.Equal(t, model.OrgA, p.Organization)
	assert.Equal(t, "1Z999AA10123456784", p.TrackingNumber)
	assert.Equal(t, meta, p.Message)
}
