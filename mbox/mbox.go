// Package mbox reads labelled messages from an mbox archive such as a
// Google Takeout export. Labels come from the X-Gmail-Labels header.
package mbox

import (
	"bytes"
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"net/mail"
	"os"
	"slices"
	"strings"
	"time"

	mboxlib "github.com/emersion/go-mbox"
	"go.uber.org/zap"

	"github.com/dhcgn/parcelscan/filter"
	"github.com/dhcgn/parcelscan/model"
)

var ErrMessageIDMissing = errors.New("mbox message missing Message-Id header")

type Options struct {
	Path string
	// Filter is applied on top of the label match.
	Filter filter.Options
}

// Mailbox scans the archive on List and serves Raw from what it kept.
type Mailbox struct {
	opts   Options
	logger *zap.Logger
	raw    map[string][]byte
}

type entry struct {
	id       string
	received time.Time
	index    int
}

func New(opts Options, logger *zap.Logger) (*Mailbox, error) {
	opts.Path = strings.TrimSpace(opts.Path)
	if opts.Path == "" {
		return nil, fmt.Errorf("mbox path is empty")
	}
	if _, err := filter.New(opts.Filter); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mailbox{opts: opts, logger: logger, raw: make(map[string][]byte)}, nil
}

// List returns up to limit Message-Ids of messages labelled label, newest
// first by Date header. Messages without a parseable date sort last in
// archive order.
func (m *Mailbox) List(ctx context.Context, label string, limit int) ([]string, error) {
	f, err := filter.New(m.opts.Filter.ForLabel(label))
	if err != nil {
		return nil, err
	}

	file, err := os.Open(m.opts.Path)
	if err != nil {
		return nil, fmt.Errorf("open mbox: %w", err)
	}
	defer file.Close()

	found := make(map[string][]byte)
	var entries []entry
	skipped := 0

	reader := mboxlib.NewReader(file)
	for idx := 0; ; idx++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		msgReader, err := reader.NextMessage()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("mbox message %d: %w", idx, err)
		}

		raw, err := io.ReadAll(msgReader)
		if err != nil {
			return nil, fmt.Errorf("mbox message %d read: %w", idx, err)
		}

		header, body := filter.SplitRawMessage(raw)
		if !f.Allows(header, body) {
			continue
		}

		id, received, err := parseHeader(raw)
		if err != nil {
			skipped++
			m.logger.Warn("skipping mbox message", zap.Int("index", idx), zap.Error(err))
			continue
		}
		if _, dup := found[id]; dup {
			continue
		}
		found[id] = raw
		entries = append(entries, entry{id: id, received: received, index: idx})
	}

	slices.SortStableFunc(entries, func(a, b entry) int {
		switch {
		case a.received.IsZero() && b.received.IsZero():
			return cmp.Compare(a.index, b.index)
		case a.received.IsZero():
			return 1
		case b.received.IsZero():
			return -1
		default:
			return b.received.Compare(a.received)
		}
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}

	m.raw = make(map[string][]byte, len(entries))
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		m.raw[e.id] = found[e.id]
		ids = append(ids, e.id)
	}

	m.logger.Debug("mbox scan complete",
		zap.String("path", m.opts.Path),
		zap.String("label", label),
		zap.Int("matched", len(found)),
		zap.Int("skipped", skipped),
		zap.Int("listed", len(ids)))
	return ids, nil
}

func (m *Mailbox) Raw(_ context.Context, id string) ([]byte, error) {
	raw, ok := m.raw[id]
	if !ok {
		return nil, fmt.Errorf("%w: message %s not in listing", model.ErrTransport, id)
	}
	return raw, nil
}

func parseHeader(raw []byte) (string, time.Time, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("parse header: %w", err)
	}

	id := strings.Trim(strings.TrimSpace(msg.Header.Get("Message-Id")), " <>")
	if id == "" {
		return "", time.Time{}, ErrMessageIDMissing
	}

	var received time.Time
	if date := msg.Header.Get("Date"); date != "" {
		if t, err := mail.ParseDate(date); err == nil {
			received = t
		}
	}
	return id, received, nil
}
