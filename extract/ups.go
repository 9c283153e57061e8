package extract

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/dhcgn/parcelscan/body"
	"github.com/dhcgn/parcelscan/model"
)

// UPS labels are followed by a non-breaking space. It shows up as the
// quoted-printable "=C2=A0" when the part was not decoded.
const labelSeparator = `(?:=C2=A0|\x{00A0}| )`

var (
	upsDeliveryLocation = regexp.MustCompile(`(?m)^[ \t]*Delivery Location:` + labelSeparator + `([^\r\n]*)\r?\n([^\r\n]*)`)
	upsTrackingNumber   = regexp.MustCompile(`(?m)^[ \t]*Tracking Number:` + labelSeparator + `([^\r\n]*)`)
)

// UPS extracts from the plaintext body of UPS notifications.
type UPS struct{}

func NewUPS() *UPS {
	return &UPS{}
}

func (u *UPS) Address(msg body.Message) (model.Address, error) {
	text, err := msg.PlainText()
	if err != nil {
		return model.Address{}, fmt.Errorf("ups address: %w", err)
	}

	m := upsDeliveryLocation.FindStringSubmatch(text)
	if m == nil {
		return model.Address{}, fmt.Errorf("%w: ups delivery location label missing", model.ErrPatternMismatch)
	}
	return ParseAddress(m[1], m[2])
}

func (u *UPS) TrackingID(_ context.Context, msg body.Message) (string, error) {
	text, err := msg.PlainText()
	if err != nil {
		return "", fmt.Errorf("ups tracking number: %w", err)
	}

	m := upsTrackingNumber.FindStringSubmatch(text)
	if m == nil {
		return "", fmt.Errorf("%w: ups tracking number label missing", model.ErrPatternMismatch)
	}
	id := strings.TrimRight(m[1], " \t")
	if id == "" {
		return "", fmt.Errorf("%w: ups tracking number is empty", model.ErrPatternMismatch)
	}
	return id, nil
}
