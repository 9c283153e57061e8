package extract

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"mvdan.cc/xurls/v2"

	"github.com/dhcgn/parcelscan/body"
	"github.com/dhcgn/parcelscan/fetch"
	"github.com/dhcgn/parcelscan/model"
)

const (
	criticalInfoID = "criticalInfo"
	// trackingIDLabel prefixes the tracking id anchor on the tracking page.
	trackingIDLabel = "Tracking ID "
)

var (
	urlPattern    = xurls.Relaxed()
	localityJunk  = regexp.MustCompile(`[^\p{L}\p{N}_ ,]`)
	recipientJunk = regexp.MustCompile(`[^\p{L}\p{N}_ ]`)
)

// Amazon extracts from Amazon Logistics notifications. The tracking id is
// not in the message; it lives on the linked shipment tracking page.
type Amazon struct {
	fetcher fetch.Fetcher
}

func NewAmazon(fetcher fetch.Fetcher) *Amazon {
	return &Amazon{fetcher: fetcher}
}

func (a *Amazon) Address(msg body.Message) (model.Address, error) {
	markup, err := msg.HTML()
	if err != nil {
		return model.Address{}, fmt.Errorf("amazon address: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return model.Address{}, fmt.Errorf("amazon address: parse html: %w", err)
	}

	// Undecoded quoted-printable leaves the id as 3D"criticalInfo".
	block := doc.Find("[id]").FilterFunction(func(_ int, s *goquery.Selection) bool {
		id, _ := s.Attr("id")
		return id == criticalInfoID || id == `3D"`+criticalInfoID+`"`
	}).First()
	if block.Length() == 0 {
		return model.Address{}, fmt.Errorf("%w: amazon %s block missing", model.ErrPatternMismatch, criticalInfoID)
	}

	cell := block.Find("td").First()
	if cell.Length() == 0 {
		return model.Address{}, fmt.Errorf("%w: amazon %s block has no cells", model.ErrPatternMismatch, criticalInfoID)
	}

	lines := strippedStrings(cell)
	if len(lines) < 3 {
		return model.Address{}, fmt.Errorf("%w: amazon address has %d lines, want 3", model.ErrPatternMismatch, len(lines))
	}

	addr, err := ParseAddress(lines[1], localityJunk.ReplaceAllString(lines[2], ""))
	if err != nil {
		return model.Address{}, err
	}
	addr.Recipient = strings.TrimSpace(recipientJunk.ReplaceAllString(lines[0], ""))
	return addr, nil
}

func (a *Amazon) TrackingID(ctx context.Context, msg body.Message) (string, error) {
	text, err := msg.PlainText()
	if err != nil {
		return "", fmt.Errorf("amazon tracking id: %w", err)
	}

	url, err := FindTrackingURL(text)
	if err != nil {
		return "", err
	}

	page, err := a.fetcher.Fetch(ctx, url)
	if err != nil {
		return "", fmt.Errorf("amazon tracking page: %w", err)
	}

	return FindTrackingID(page)
}

// FindTrackingURL returns the first URL in text that mentions both "ship"
// and "track".
func FindTrackingURL(text string) (string, error) {
	for _, u := range urlPattern.FindAllString(text, -1) {
		if strings.Contains(u, "ship") && strings.Contains(u, "track") {
			if !strings.Contains(u, "://") {
				u = "https://" + u
			}
			return u, nil
		}
	}
	return "", model.ErrNoTrackingURL
}

// FindTrackingID returns the id from the first anchor labelled "Tracking ID".
func FindTrackingID(page string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return "", fmt.Errorf("parse tracking page: %w", err)
	}

	var id string
	doc.Find("a").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := strings.Join(strings.Fields(s.Text()), " ")
		if !strings.HasPrefix(text, trackingIDLabel) {
			return true
		}
		id = strings.TrimSpace(text[len(trackingIDLabel):])
		return false
	})
	if id == "" {
		return "", model.ErrNoTrackingID
	}
	return id, nil
}

func strippedStrings(sel *goquery.Selection) []string {
	var out []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			if s := strings.TrimSpace(n.Data); s != "" {
				out = append(out, s)
			}
			return
		case html.ElementNode:
			if n.Data == "script" || n.Data == "style" {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range sel.Nodes {
		walk(n)
	}
	return out
}
