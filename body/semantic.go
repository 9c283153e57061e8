package body

import (
	"bytes"
	"fmt"

	"github.com/jhillyerd/enmime"
)

type semanticMessage struct {
	env *enmime.Envelope
}

// ParseSemantic selects the text/plain and text/html parts by content type.
func ParseSemantic(raw []byte) (Message, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("read mime envelope: %w", err)
	}
	return &semanticMessage{env: env}, nil
}

func (m *semanticMessage) Header(name string) string {
	return m.env.GetHeader(name)
}

func (m *semanticMessage) PlainText() (string, error) {
	if m.env.Text == "" {
		return "", fmt.Errorf("text/plain: %w", ErrNoPart)
	}
	return m.env.Text, nil
}

func (m *semanticMessage) HTML() (string, error) {
	if m.env.HTML == "" {
		return "", fmt.Errorf("text/html: %w", ErrNoPart)
	}
	return m.env.HTML, nil
}
