// Package imap reads labelled messages from an IMAP server. Gmail exposes
// each label as a mailbox of the same name.
package imap

import (
	"cmp"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"slices"
	"strconv"
	"strings"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"go.uber.org/zap"

	"github.com/dhcgn/parcelscan/model"
)

var ErrInvalidID = errors.New("invalid imap message id")

type Options struct {
	Host               string
	Port               int
	Username           string
	Password           string
	UseTLS             bool
	InsecureSkipVerify bool
}

// Mailbox keeps one connection open for the lifetime of a run. Message ids
// have the form "<uidvalidity>.<uid>".
type Mailbox struct {
	opts   Options
	logger *zap.Logger

	client      *imapclient.Client
	cleanup     func()
	selected    string
	uidValidity uint32
}

func New(opts Options, logger *zap.Logger) (*Mailbox, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("imap host is empty")
	}
	if opts.Port <= 0 {
		return nil, fmt.Errorf("imap port must be positive")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mailbox{opts: opts, logger: logger}, nil
}

// List returns up to limit message ids in the mailbox named label, newest
// first.
func (m *Mailbox) List(ctx context.Context, label string, limit int) ([]string, error) {
	if err := m.selectMailbox(ctx, label); err != nil {
		return nil, err
	}

	data, err := m.client.UIDSearch(&imapv2.SearchCriteria{}, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("%w: search %s: %v", model.ErrTransport, label, err)
	}

	uids := data.AllUIDs()
	slices.SortFunc(uids, func(a, b imapv2.UID) int { return cmp.Compare(b, a) })
	if len(uids) > limit {
		uids = uids[:limit]
	}

	ids := make([]string, 0, len(uids))
	for _, uid := range uids {
		ids = append(ids, formatID(m.uidValidity, uid))
	}
	m.logger.Debug("imap search complete", zap.String("mailbox", label), zap.Int("matched", len(ids)))
	return ids, nil
}

// Raw fetches the full message without setting \Seen.
func (m *Mailbox) Raw(ctx context.Context, id string) ([]byte, error) {
	validity, uid, err := parseID(id)
	if err != nil {
		return nil, err
	}
	if m.client == nil {
		return nil, fmt.Errorf("%w: no mailbox selected", model.ErrTransport)
	}
	if validity != m.uidValidity {
		return nil, fmt.Errorf("%w: message %s belongs to uidvalidity %d, mailbox has %d", model.ErrTransport, id, validity, m.uidValidity)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	section := &imapv2.FetchItemBodySection{Peek: true}
	msgs, err := m.client.Fetch(imapv2.UIDSetNum(uid), &imapv2.FetchOptions{
		UID:         true,
		BodySection: []*imapv2.FetchItemBodySection{section},
	}).Collect()
	if err != nil {
		return nil, fmt.Errorf("%w: fetch %s: %v", model.ErrTransport, id, err)
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("%w: message %s not found", model.ErrTransport, id)
	}

	raw := msgs[0].FindBodySection(section)
	if raw == nil {
		return nil, fmt.Errorf("%w: message %s has no body", model.ErrTransport, id)
	}
	return raw, nil
}

func (m *Mailbox) Close() error {
	if m.cleanup != nil {
		m.cleanup()
		m.cleanup = nil
		m.client = nil
	}
	return nil
}

func (m *Mailbox) selectMailbox(ctx context.Context, name string) error {
	if m.client == nil {
		client, cleanup, err := m.dial(ctx)
		if err != nil {
			return err
		}
		m.client, m.cleanup = client, cleanup
	}
	if m.selected == name {
		return nil
	}

	data, err := m.client.Select(name, &imapv2.SelectOptions{ReadOnly: true}).Wait()
	if err != nil {
		return fmt.Errorf("%w: select mailbox %s: %v", model.ErrTransport, name, err)
	}
	m.selected = name
	m.uidValidity = data.UIDValidity
	m.logger.Debug("imap mailbox selected",
		zap.String("mailbox", name),
		zap.Uint32("messages", data.NumMessages),
		zap.Uint32("uidValidity", data.UIDValidity))
	return nil
}

func (m *Mailbox) dial(ctx context.Context) (*imapclient.Client, func(), error) {
	address := net.JoinHostPort(m.opts.Host, strconv.Itoa(m.opts.Port))
	options := &imapclient.Options{}

	if m.opts.UseTLS {
		options.TLSConfig = &tls.Config{
			ServerName:         m.opts.Host,
			InsecureSkipVerify: m.opts.InsecureSkipVerify,
		}
	}

	var (
		client *imapclient.Client
		err    error
	)

	if m.opts.UseTLS {
		client, err = imapclient.DialTLS(address, options)
	} else {
		client, err = imapclient.DialInsecure(address, options)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%w: dial imap %s: %v", model.ErrTransport, address, err)
	}

	if err := client.Login(m.opts.Username, m.opts.Password).Wait(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("imap login failed: %w", err)
	}

	m.logger.Debug("imap connection established", zap.String("address", address), zap.String("user", m.opts.Username), zap.Bool("tls", m.opts.UseTLS))

	stopClose := context.AfterFunc(ctx, func() {
		_ = client.Close()
	})

	cleanup := func() {
		stopClose()
		if ctx.Err() == nil {
			if err := client.Logout().Wait(); err != nil {
				m.logger.Warn("imap logout failed", zap.Error(err))
			}
		}
		if err := client.Close(); err != nil {
			m.logger.Debug("imap connection closed", zap.Error(err))
		}
	}

	return client, cleanup, nil
}

func formatID(validity uint32, uid imapv2.UID) string {
	return strconv.FormatUint(uint64(validity), 10) + "." + strconv.FormatUint(uint64(uid), 10)
}

func parseID(id string) (uint32, imapv2.UID, error) {
	validityText, uidText, ok := strings.Cut(id, ".")
	if !ok {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	validity, err := strconv.ParseUint(validityText, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q: %v", ErrInvalidID, id, err)
	}
	uid, err := strconv.ParseUint(uidText, 10, 32)
	if err != nil || uid == 0 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return uint32(validity), imapv2.UID(uid), nil
}
