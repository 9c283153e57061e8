package body

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
)

const (
	plainTextIndex = 0
	markupIndex    = 1
)

type positionalMessage struct {
	header message.Header
	parts  []string
}

// ParsePositional flattens the leaf parts of a message depth-first and
// serves part 0 as plaintext and part 1 as markup. Transfer encodings and
// charsets are decoded.
func ParsePositional(raw []byte) (Message, error) {
	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil && !tolerable(err) {
		return nil, fmt.Errorf("read mime message: %w", err)
	}
	if entity == nil {
		return nil, fmt.Errorf("read mime message: empty entity")
	}

	msg := &positionalMessage{header: entity.Header}
	if err := collectParts(entity, &msg.parts); err != nil {
		return nil, fmt.Errorf("read mime parts: %w", err)
	}
	return msg, nil
}

func collectParts(entity *message.Entity, parts *[]string) error {
	if mr := entity.MultipartReader(); mr != nil {
		for {
			part, err := mr.NextPart()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil && !tolerable(err) {
				return err
			}
			if part == nil {
				continue
			}
			if err := collectParts(part, parts); err != nil {
				return err
			}
		}
	}

	data, err := io.ReadAll(entity.Body)
	if err != nil {
		return err
	}
	*parts = append(*parts, string(data))
	return nil
}

// Unknown charsets and encodings leave the part readable as raw bytes.
func tolerable(err error) bool {
	return message.IsUnknownCharset(err) || message.IsUnknownEncoding(err)
}

func (m *positionalMessage) Header(name string) string {
	if text, err := m.header.Text(name); err == nil {
		return text
	}
	return m.header.Get(name)
}

func (m *positionalMessage) PlainText() (string, error) {
	return m.part(plainTextIndex)
}

func (m *positionalMessage) HTML() (string, error) {
	return m.part(markupIndex)
}

func (m *positionalMessage) part(idx int) (string, error) {
	if idx >= len(m.parts) {
		return "", fmt.Errorf("part %d of %d: %w", idx, len(m.parts), ErrNoPart)
	}
	return m.parts[idx], nil
}
