package extract

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhcgn/parcelscan/body"
	"github.com/dhcgn/parcelscan/classify"
	"github.com/dhcgn/parcelscan/model"
)

func upsMessage(text string) body.Static {
	return body.Static{
		Headers: map[string]string{"From": "UPS <pkginfo@ups.com>"},
		Text:    text,
	}
}

func TestUPSQuotedPrintableArtifact(t *testing.T) {
	msg := upsMessage("Your package is on the way.\n" +
		"Delivery Location:=C2=A0123 Main St APT 4\nSpringfield, IL 62704\n" +
		"Tracking Number:=C2=A01Z123\n")

	u := NewUPS()
	addr, err := u.Address(msg)
	require.NoError(t, err)
	assert.Equal(t, model.Address{Line1: "123 Main St", Line2: "APT 4", City: "Springfield", State: "IL", Zipcode: "62704"}, addr)

	id, err := u.TrackingID(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, "1Z123", id)
	assert.Equal(t, model.CarrierUPS, classify.ByTrackingNumber(id))
	assert.Equal(t, model.CarrierUPS, classify.BySender(msg.Header("From")))
}

func TestUPSDecodedSeparators(t *testing.T) {
	tests := map[string]string{
		"non-breaking space": "Delivery Location:\u00a0144 QUIGLEY BLVD STE 9\r\nNEW CASTLE, DE 19720\r\nTracking Number:\u00a01Z999AA10123456784\r\n",
		"plain space":        "  Delivery Location: 144 QUIGLEY BLVD STE 9\nNEW CASTLE, DE 19720\n  Tracking Number: 1Z999AA10123456784 \n",
	}

	for name, text := range tests {
		t.Run(name, func(t *testing.T) {
			msg := upsMessage(text)
			u := NewUPS()

			addr, err := u.Address(msg)
			require.NoError(t, err)
			assert.Equal(t, "144 QUIGLEY BLVD", addr.Line1)
			assert.Equal(t, "STE 9", addr.Line2)
			assert.Equal(t, "19720", addr.Zipcode)

			id, err := u.TrackingID(context.Background(), msg)
			require.NoError(t, err)
			assert.Equal(t, "1Z999AA10123456784", id)
		})
	}
}

func TestUPSMalformed(t *testing.T) {
	u := NewUPS()

	t.Run("missing labels", func(t *testing.T) {
		msg := upsMessage("Ship To: 123 Main St\nSpringfield, IL 62704\n")
		_, err := u.Address(msg)
		assert.ErrorIs(t, err, model.ErrPatternMismatch)
		_, err = u.TrackingID(context.Background(), msg)
		assert.ErrorIs(t, err, model.ErrPatternMismatch)
	})

	t.Run("no unit keyword", func(t *testing.T) {
		msg := upsMessage("Delivery Location:=C2=A0123 Main St\nSpringfield, IL 62704\n")
		_, err := u.Address(msg)
		assert.ErrorIs(t, err, model.ErrPatternMismatch)
	})

	t.Run("empty tracking number", func(t *testing.T) {
		msg := upsMessage("Tracking Number:=C2=A0\n")
		_, err := u.TrackingID(context.Background(), msg)
		assert.ErrorIs(t, err, model.ErrPatternMismatch)
	})

	t.Run("no plaintext part", func(t *testing.T) {
		_, err := u.Address(body.Static{})
		assert.ErrorIs(t, err, body.ErrNoPart)
	})
}
