package classify

import "github.com/dhcgn/parcelscan/model"

// Assembler builds purchases and fills in every derived field.
type Assembler struct {
	orgs *Organizations
}

func NewAssembler(orgs *Organizations) *Assembler {
	if orgs == nil {
		orgs = DefaultOrganizations()
	}
	return &Assembler{orgs: orgs}
}

// Assemble does not reconcile Carrier with SenderCarrier.
func (a *Assembler) Assemble(meta model.MessageMeta, trackingID string, addr model.Address) model.Purchase {
	return model.Purchase{
		Message:        meta,
		TrackingNumber: trackingID,
		Address:        addr,
		Carrier:        ByTrackingNumber(trackingID),
		SenderCarrier:  BySender(meta.From),
		Organization:   a.orgs.Classify(addr),
	}
}
