package extract

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhcgn/parcelscan/body"
	"github.com/dhcgn/parcelscan/classify"
	"github.com/dhcgn/parcelscan/model"
)

type fakeFetcher struct {
	pages map[string]string
	err   error
	calls []string
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (string, error) {
	f.calls = append(f.calls, url)
	if f.err != nil {
		return "", f.err
	}
	page, ok := f.pages[url]
	if !ok {
		return "", fmt.Errorf("%w: no page for %s", model.ErrTransport, url)
	}
	return page, nil
}

const amazonMarkup = `<html><body>
<table><tr><td>Your package will arrive today</td></tr></table>
<table id="criticalInfo"><tr>
<td><b>John Q. Doe</b><br>
123 Main St APT 4<br>
SPRINGFIELD, IL. 62704-1234<br>
United States</td>
<td>Arriving: Tuesday</td>
</tr></table>
<style>td { color: red; }</style>
</body></html>`

const amazonText = `Hello John,
View your orders: https://www.amazon.com/gp/css/order-history
Track your package: https://www.amazon.com/progress-tracker/package/ship-track?itemId=abc&orderId=111
`

const trackingPage = `<html><body>
<a href="/help">Help</a>
<a class="tracking">
  Tracking ID
  TBA301482918000
</a>
<a>Tracking ID TBA999</a>
</body></html>`

const trackingURL = "https://www.amazon.com/progress-tracker/package/ship-track?itemId=abc&orderId=111"

func amazonMessage() body.Static {
	return body.Static{
		Headers: map[string]string{"From": `"Amazon.com" <shipment-tracking@amazon.com>`},
		Text:    amazonText,
		Markup:  amazonMarkup,
	}
}

func TestAmazonAddress(t *testing.T) {
	a := NewAmazon(&fakeFetcher{})

	addr, err := a.Address(amazonMessage())
	require.NoError(t, err)
	assert.Equal(t, model.Address{
		Line1:     "123 Main St",
		Line2:     "APT 4",
		City:      "SPRINGFIELD",
		State:     "IL",
		Zipcode:   "62704",
		Recipient: "John Q Doe",
	}, addr)
}

func TestAmazonAddressUndecodedID(t *testing.T) {
	msg := amazonMessage()
	msg.Markup = `<table id=3D"criticalInfo"><tr><td>Jane Roe<br>118 PARK AVE STE 2<br>Bedford, NH 03110</td></tr></table>`

	addr, err := NewAmazon(&fakeFetcher{}).Address(msg)
	require.NoError(t, err)
	assert.Equal(t, "118 PARK AVE", addr.Line1)
	assert.Equal(t, "Jane Roe", addr.Recipient)
	assert.Equal(t, model.OrgB, classify.DefaultOrganizations().Classify(addr))
}

func TestAmazonAddressMissingBlock(t *testing.T) {
	tests := map[string]string{
		"no block":    `<table><tr><td>Jane Roe<br>1 A St APT 1<br>X, NH 03110</td></tr></table>`,
		"no cells":    `<div id="criticalInfo">Jane Roe</div>`,
		"short block": `<table id="criticalInfo"><tr><td>Jane Roe<br>1 A St APT 1</td></tr></table>`,
	}
	for name, markup := range tests {
		t.Run(name, func(t *testing.T) {
			msg := amazonMessage()
			msg.Markup = markup
			_, err := NewAmazon(&fakeFetcher{}).Address(msg)
			assert.ErrorIs(t, err, model.ErrPatternMismatch)
		})
	}
}

func TestAmazonTrackingID(t *testing.T) {
	f := &fakeFetcher{pages: map[string]string{trackingURL: trackingPage}}
	a := NewAmazon(f)

	id, err := a.TrackingID(context.Background(), amazonMessage())
	require.NoError(t, err)
	assert.Equal(t, "TBA301482918000", id)
	assert.Equal(t, []string{trackingURL}, f.calls)
	assert.Equal(t, model.CarrierAmazon, classify.ByTrackingNumber(id))
}

func TestAmazonTrackingIDFailures(t *testing.T) {
	t.Run("no tracking url", func(t *testing.T) {
		msg := amazonMessage()
		msg.Text = "Thanks for your order: https://www.amazon.com/orders"
		f := &fakeFetcher{}
		_, err := NewAmazon(f).TrackingID(context.Background(), msg)
		assert.ErrorIs(t, err, model.ErrNoTrackingURL)
		assert.Empty(t, f.calls)
	})

	t.Run("fetch failure", func(t *testing.T) {
		f := &fakeFetcher{err: fmt.Errorf("%w: connection refused", model.ErrTransport)}
		_, err := NewAmazon(f).TrackingID(context.Background(), amazonMessage())
		assert.ErrorIs(t, err, model.ErrTransport)
	})

	t.Run("no anchor", func(t *testing.T) {
		f := &fakeFetcher{pages: map[string]string{trackingURL: `<a href="/">Your orders</a>`}}
		_, err := NewAmazon(f).TrackingID(context.Background(), amazonMessage())
		assert.ErrorIs(t, err, model.ErrNoTrackingID)
	})
}

func TestFindTrackingURL(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"first matching url", "a https://x.com/ship b https://x.com/ship-track/1 c https://x.com/ship-track/2", "https://x.com/ship-track/1"},
		{"scheme added", "go to amazon.com/shiptrack/abc now", "https://amazon.com/shiptrack/abc"},
		{"order of words irrelevant", "http://example.com/track?ship=1", "http://example.com/track?ship=1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FindTrackingURL(tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFindTrackingID(t *testing.T) {
	id, err := FindTrackingID(`<a>Tracking IDs</a><a>Tracking ID  1Z999 </a>`)
	require.NoError(t, err)
	assert.Equal(t, "1Z999", id)

	_, err = FindTrackingID(`<p>Tracking ID TBA1</p>`)
	assert.ErrorIs(t, err, model.ErrNoTrackingID)
}
