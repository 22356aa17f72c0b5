package protocol

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ErrMalformed indicates the inbound payload is not a valid protocol message.
// The dispatcher answers these with a generic error envelope; they are never
// fatal to the connection.
var ErrMalformed = errors.New("malformed protocol message")

// Kind is the envelope discriminant of a protocol message
type Kind int

const (
	KindRequest Kind = iota
	KindEvent
	KindResponse
)

// String returns the wire name of the envelope kind
func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "Request"
	case KindEvent:
		return "Event"
	case KindResponse:
		return "Response"
	default:
		return "Unknown"
	}
}

// Message is a decoded protocol message: the envelope kind, the message type
// tag carried as the discriminant element's text, and the remaining child
// elements as a flat field set.
type Message struct {
	Kind   Kind
	Type   string
	fields map[string]string
}

// Decode parses one XML message. The envelope root is <Message> with exactly
// one discriminant child (Request, Event or Response) whose text is the
// message type; every other child is a flat <Name>value</Name> field.
func Decode(data []byte) (*Message, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))

	var root xml.StartElement
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if se, ok := tok.(xml.StartElement); ok {
			root = se
			break
		}
	}
	if root.Name.Local != "Message" {
		return nil, fmt.Errorf("%w: unexpected root element %q", ErrMalformed, root.Name.Local)
	}

	msg := &Message{Kind: -1, fields: make(map[string]string)}
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}

		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		var text string
		if err := dec.DecodeElement(&text, &se); err != nil {
			return nil, fmt.Errorf("%w: element %s: %v", ErrMalformed, se.Name.Local, err)
		}
		text = strings.TrimSpace(text)

		switch se.Name.Local {
		case "Request":
			if msg.Kind < 0 {
				msg.Kind, msg.Type = KindRequest, text
				continue
			}
		case "Event":
			if msg.Kind < 0 {
				msg.Kind, msg.Type = KindEvent, text
				continue
			}
		case "Response":
			if msg.Kind < 0 {
				msg.Kind, msg.Type = KindResponse, text
				continue
			}
		}
		msg.fields[se.Name.Local] = text
	}

	if msg.Kind < 0 {
		return nil, fmt.Errorf("%w: no Request, Event or Response element", ErrMalformed)
	}
	return msg, nil
}

// Text returns the trimmed text of a field, or "" when absent
func (m *Message) Text(name string) string {
	return m.fields[name]
}

// Has reports whether the field is present
func (m *Message) Has(name string) bool {
	_, ok := m.fields[name]
	return ok
}

// Int returns the field parsed as an integer, or def when absent or unparseable
func (m *Message) Int(name string, def int) int {
	text, ok := m.fields[name]
	if !ok || text == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil {
		return def
	}
	return n
}

// TextOpt returns the field's text, or nil when the element is absent
func (m *Message) TextOpt(name string) *string {
	text, ok := m.fields[name]
	if !ok {
		return nil
	}
	return &text
}

// IntOpt returns the field parsed as an integer, or nil when the element is
// absent or not a number
func (m *Message) IntOpt(name string) *int {
	text, ok := m.fields[name]
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil {
		return nil
	}
	return &n
}

// Bool returns the field decoded with the protocol's "Yes"/"No" convention:
// only a case-insensitive "Yes" is true.
func (m *Message) Bool(name string) bool {
	return strings.EqualFold(m.fields[name], "Yes")
}

// Serial returns the DeviceSerialNo field carried by most message kinds
func (m *Message) Serial() string {
	return m.fields["DeviceSerialNo"]
}

// Result returns the Result field, or "" when absent
func (m *Message) Result() string {
	return m.fields["Result"]
}
