package payload

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/danmuck/serialrelay/internal/protocol/frame"
	"github.com/rs/zerolog/log"
)

var ErrTagMismatch = errors.New("payload: tag mismatch")

// ShapeError reports a payload whose tag matched but whose bytes do not
// deserialize into the variant.
type ShapeError struct {
	Type   string
	Field  int
	Reason string
}

func (e *ShapeError) Error() string {
	if e.Field < 0 {
		return fmt.Sprintf("payload: %s: %s", e.Type, e.Reason)
	}
	return fmt.Sprintf("payload: %s field %d: %s", e.Type, e.Field, e.Reason)
}

type variant[T any] interface {
	*T
	Payload
	arity() (int, int)
	decodeFields(*fieldReader)
}

// Parse decodes line as variant T. It fails with ErrTagMismatch when the tag
// belongs to another variant and with *ShapeError when the payload bytes do
// not fit T.
func Parse[T any, P variant[T]](line frame.Line) (T, error) {
	var out T
	p := P(&out)
	if line.Tag != p.Tag() {
		return out, ErrTagMismatch
	}
	name := fmt.Sprintf("%T", out)

	trimmed := bytes.TrimSpace(line.Payload)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return out, &ShapeError{Type: name, Field: -1, Reason: "payload is not an array"}
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(trimmed, &elems); err != nil {
		return out, &ShapeError{Type: name, Field: -1, Reason: err.Error()}
	}
	lo, hi := p.arity()
	if len(elems) < lo || len(elems) > hi {
		return out, &ShapeError{
			Type:   name,
			Field:  -1,
			Reason: fmt.Sprintf("got %d fields, want %d..%d", len(elems), lo, hi),
		}
	}

	r := &fieldReader{name: name, elems: elems}
	p.decodeFields(r)
	if r.err != nil {
		var zero T
		return zero, r.err
	}
	return out, nil
}

// Interpret is Parse without the error: a tag mismatch is silent, a shape
// error is logged at warn level. Either way the result is "no match".
func Interpret[T any, P variant[T]](line frame.Line) (T, bool) {
	v, err := Parse[T, P](line)
	if err == nil {
		return v, true
	}
	if !errors.Is(err, ErrTagMismatch) {
		log.Warn().Err(err).Str("tag", line.Tag).Bytes("payload", line.Payload).Msg("bad payload decode")
	}
	return v, false
}

// ToLine serializes p into a line carrying its tag.
func ToLine(p Payload) (frame.Line, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(p.encodeFields()); err != nil {
		return frame.Line{}, fmt.Errorf("payload: encode %T: %w", p, err)
	}
	return frame.Line{
		Tag:     p.Tag(),
		Payload: bytes.TrimRight(buf.Bytes(), "\n"),
	}, nil
}

// fieldReader walks the elements of a decoded array in declared order.
// Fields past the end of the array keep their default value.
type fieldReader struct {
	name  string
	elems []json.RawMessage
	next  int
	err   error
}

func (r *fieldReader) take() (json.RawMessage, int, bool) {
	if r.err != nil || r.next >= len(r.elems) {
		return nil, 0, false
	}
	i := r.next
	r.next++
	return r.elems[i], i, true
}

func (r *fieldReader) fail(i int, reason string) {
	r.err = &ShapeError{Type: r.name, Field: i, Reason: reason}
}

func (r *fieldReader) integer(dst *int64) {
	raw, i, ok := r.take()
	if !ok {
		return
	}
	if isNull(raw) {
		r.fail(i, "expected integer, got null")
		return
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		r.fail(i, "expected integer: "+err.Error())
	}
}

func (r *fieldReader) text(dst *string) {
	raw, i, ok := r.take()
	if !ok {
		return
	}
	if isNull(raw) {
		r.fail(i, "expected string, got null")
		return
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		r.fail(i, "expected string: "+err.Error())
	}
}

func (r *fieldReader) value(dst *json.RawMessage) {
	raw, _, ok := r.take()
	if !ok {
		return
	}
	*dst = append(json.RawMessage(nil), raw...)
}

func (r *fieldReader) array(dst *[]json.RawMessage) {
	raw, i, ok := r.take()
	if !ok {
		return
	}
	if isNull(raw) {
		r.fail(i, "expected array, got null")
		return
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		r.fail(i, "expected array: "+err.Error())
	}
}

func isNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}
