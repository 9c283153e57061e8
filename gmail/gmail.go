// Package gmail lists and downloads labelled messages through the Gmail API.
package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
	gmailapi "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/dhcgn/parcelscan/model"
)

const (
	userID = "me"
	// maxPageSize is the largest page the API returns.
	maxPageSize = 500
)

// Scopes requested for the mailbox.
var Scopes = []string{gmailapi.GmailModifyScope}

// Mailbox reads the authorized user's mailbox.
type Mailbox struct {
	svc    *gmailapi.Service
	logger *zap.Logger
}

// New builds a Mailbox on an authorized client. Extra options are applied
// after the client, which lets tests override the endpoint.
func New(ctx context.Context, client *http.Client, logger *zap.Logger, opts ...option.ClientOption) (*Mailbox, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	all := append([]option.ClientOption{option.WithHTTPClient(client)}, opts...)
	svc, err := gmailapi.NewService(ctx, all...)
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}
	return &Mailbox{svc: svc, logger: logger}, nil
}

// List returns up to limit message ids carrying label, newest first.
func (m *Mailbox) List(ctx context.Context, label string, limit int) ([]string, error) {
	query := "label:" + label
	var ids []string
	pageToken := ""

	for len(ids) < limit {
		call := m.svc.Users.Messages.List(userID).
			Q(query).
			MaxResults(int64(min(limit-len(ids), maxPageSize))).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		resp, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("%w: list messages %q: %v", model.ErrTransport, query, err)
		}
		for _, msg := range resp.Messages {
			ids = append(ids, msg.Id)
		}
		m.logger.Debug("listed message page",
			zap.Int("page", len(resp.Messages)),
			zap.Int("total", len(ids)))

		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}

	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// Raw downloads the RFC 822 bytes of a message.
func (m *Mailbox) Raw(ctx context.Context, id string) ([]byte, error) {
	msg, err := m.svc.Users.Messages.Get(userID, id).Format("raw").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("%w: get message %s: %v", model.ErrTransport, id, err)
	}
	return decodeRaw(msg.Raw)
}

func decodeRaw(raw string) ([]byte, error) {
	data, err := base64.URLEncoding.DecodeString(raw)
	if err == nil {
		return data, nil
	}
	data, rawErr := base64.RawURLEncoding.DecodeString(strings.TrimRight(raw, "="))
	if rawErr != nil {
		return nil, fmt.Errorf("decode raw message: %w", err)
	}
	return data, nil
}
