package model

// Purchase is a successfully extracted shipment notification.
//
// Carrier is derived from TrackingNumber and SenderCarrier from the message
// sender; the two may disagree and are kept side by side. Organization is
// derived from Address.
type Purchase struct {
	Message        MessageMeta  `json:"message"`
	TrackingNumber string       `json:"tracking_number"`
	Address        Address      `json:"address"`
	Carrier        Carrier      `json:"carrier,omitempty"`
	SenderCarrier  Carrier      `json:"sender_carrier,omitempty"`
	Organization   Organization `json:"organization,omitempty"`
}

// PurchaseKey is the identity of a Purchase.
type PurchaseKey struct {
	MessageID      string
	TrackingNumber string
}

func (p Purchase) Key() PurchaseKey {
	return PurchaseKey{MessageID: p.Message.ID, TrackingNumber: p.TrackingNumber}
}

// Equal compares message id and tracking number only.
func (p Purchase) Equal(other Purchase) bool {
	return p.Key() == other.Key()
}
