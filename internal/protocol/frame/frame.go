package frame

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
)

// BypassMarker replaces the checksum field to disable verification on decode.
// Encode never emits it.
const BypassMarker = "~~~"

var (
	ErrBadFormat    = errors.New("frame: bad line format")
	ErrInvalidTag   = errors.New("frame: tag must be word characters")
	ErrEmptyPayload = errors.New("frame: empty payload")
	ErrNewline      = errors.New("frame: payload contains newline")
)

var (
	tagPattern  = regexp.MustCompile(`^\w*$`)
	linePattern = regexp.MustCompile(
		`^\s*(\w*)` + // tag
			`(\s*(?:".*"|\{.*\}|\[.*\]|(?:^|\s)[\w.-]+\s)\s*)` + // payload region
			`([\w-]{3}|~~~)\s*$`, // checksum or bypass
	)
)

// Line is one framed protocol unit: a tag and the raw payload bytes it carries.
// Payload is serialized message data and is never interpreted here.
type Line struct {
	Tag     string
	Payload []byte
}

func (l Line) String() string {
	return fmt.Sprintf("%s %s", l.Tag, l.Payload)
}

// Equal reports whether two lines carry the same tag and payload bytes.
func (l Line) Equal(o Line) bool {
	return l.Tag == o.Tag && bytes.Equal(l.Payload, o.Payload)
}

// ChecksumError reports a line whose checksum field does not match its content.
type ChecksumError struct {
	Expected uint32 // value carried on the wire
	Actual   uint32 // value computed over tag and payload region
	Field    string
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("frame: checksum mismatch: 0x%05x (%s) != 0x%05x", e.Expected, e.Field, e.Actual)
}

// Decode parses exactly one line (without its trailing newline). The whole
// input must match the line grammar. Unless the checksum field is the bypass
// marker, the CRC-18 over tag and payload region must match.
func Decode(data []byte) (Line, error) {
	m := linePattern.FindSubmatch(data)
	if m == nil {
		return Line{}, ErrBadFormat
	}
	tag, region, check := m[1], m[2], m[3]

	if string(check) != BypassMarker {
		expected, err := parseChecksum(check)
		if err != nil {
			return Line{}, ErrBadFormat
		}
		signed := make([]byte, 0, len(tag)+len(region))
		signed = append(signed, tag...)
		signed = append(signed, region...)
		if actual := Checksum(signed); actual != expected {
			return Line{}, &ChecksumError{Expected: expected, Actual: actual, Field: string(check)}
		}
	}

	payload := bytes.TrimSpace(region)
	return Line{
		Tag:     string(tag),
		Payload: append([]byte(nil), payload...),
	}, nil
}

// Encode renders l in wire form, without the trailing newline.
func Encode(l Line) ([]byte, error) {
	if !tagPattern.MatchString(l.Tag) {
		return nil, ErrInvalidTag
	}
	if len(l.Payload) == 0 {
		return nil, ErrEmptyPayload
	}
	if bytes.ContainsAny(l.Payload, "\r\n") {
		return nil, ErrNewline
	}

	out := make([]byte, 0, len(l.Tag)+len(l.Payload)+2+ChecksumLen)
	out = append(out, l.Tag...)
	if len(l.Tag) > 0 && !opensValue(l.Payload[0]) {
		out = append(out, ' ')
	}
	out = append(out, l.Payload...)
	if !closesValue(l.Payload[len(l.Payload)-1]) {
		out = append(out, ' ')
	}
	return appendChecksum(out, Checksum(out)), nil
}

// AppendLine encodes l and appends it, newline terminated, to dst.
func AppendLine(dst []byte, l Line) ([]byte, error) {
	enc, err := Encode(l)
	if err != nil {
		return dst, err
	}
	dst = append(dst, enc...)
	return append(dst, '\n'), nil
}

func opensValue(b byte) bool {
	return b == '"' || b == '[' || b == '{'
}

func closesValue(b byte) bool {
	return b == '"' || b == ']' || b == '}'
}
