package model

// MessageMeta identifies a single mailbox message. Only ID takes part in
// equality; the remaining headers are informational.
type MessageMeta struct {
	ID      string `json:"id"`
	To      string `json:"to,omitempty"`
	From    string `json:"from,omitempty"`
	Date    string `json:"date,omitempty"`
	Subject string `json:"subject,omitempty"`
}

// Equal reports whether both values refer to the same mailbox message.
func (m MessageMeta) Equal(other MessageMeta) bool {
	return m.ID == other.ID
}

// Address is a parsed US delivery address.
type Address struct {
	Line1     string `json:"line1"`
	Line2     string `json:"line2"`
	City      string `json:"city"`
	State     string `json:"state"`
	Zipcode   string `json:"zipcode"`
	Recipient string `json:"recipient,omitempty"`
}

// Equal compares every field except Recipient.
func (a Address) Equal(other Address) bool {
	return a.Line1 == other.Line1 &&
		a.Line2 == other.Line2 &&
		a.City == other.City &&
		a.State == other.State &&
		a.Zipcode == other.Zipcode
}

// Street renders line1 and line2 the way carriers print them.
func (a Address) Street() string {
	if a.Line2 == "" {
		return a.Line1
	}
	return a.Line1 + " " + a.Line2
}

// Locality renders "City, ST 12345".
func (a Address) Locality() string {
	return a.City + ", " + a.State + " " + a.Zipcode
}
