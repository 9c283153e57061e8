// Package body exposes headers, plaintext, and markup of a raw MIME message.
//
// Two strategies exist. Positional treats the first leaf part as plaintext
// and the second as markup, which is how shipment notifications are usually
// laid out. Semantic picks parts by content type.
package body

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoPart is returned when the requested body variant does not exist.
var ErrNoPart = errors.New("message part not found")

type Strategy string

const (
	StrategyPositional Strategy = "positional"
	StrategySemantic   Strategy = "semantic"
)

// Message is a parsed view of one raw message.
type Message interface {
	Header(name string) string
	PlainText() (string, error)
	HTML() (string, error)
}

// Parser turns raw MIME bytes into a Message.
type Parser interface {
	Parse(raw []byte) (Message, error)
}

// ParserFunc adapts a function to Parser.
type ParserFunc func(raw []byte) (Message, error)

func (f ParserFunc) Parse(raw []byte) (Message, error) {
	return f(raw)
}

// NewParser returns the parser for a strategy name.
func NewParser(strategy Strategy) (Parser, error) {
	switch Strategy(strings.ToLower(string(strategy))) {
	case StrategyPositional, "":
		return ParserFunc(ParsePositional), nil
	case StrategySemantic:
		return ParserFunc(ParseSemantic), nil
	default:
		return nil, fmt.Errorf("unknown body parser %q", strategy)
	}
}

// Static is a Message backed by fixed strings.
type Static struct {
	Headers map[string]string
	Text    string
	Markup  string
}

func (s Static) Header(name string) string {
	for k, v := range s.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

func (s Static) PlainText() (string, error) {
	if s.Text == "" {
		return "", fmt.Errorf("plaintext: %w", ErrNoPart)
	}
	return s.Text, nil
}

func (s Static) HTML() (string, error) {
	if s.Markup == "" {
		return "", fmt.Errorf("html: %w", ErrNoPart)
	}
	return s.Markup, nil
}
