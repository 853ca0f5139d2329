// Package payload owns the closed set of structured payloads carried by lines.
//
// Every variant is bound to one tag and serializes as a compact JSON array in
// declared field order. Trailing fields equal to their default are omitted on
// encode and refilled on decode.
package payload

import "encoding/json"

// Tags bound to each variant.
const (
	TagMessage      = ""
	TagProfileEntry = "Pe"
	TagTimeQuery    = "Tq"
	TagTimeReply    = "Tr"
)

// Payload is implemented by every variant in this package.
type Payload interface {
	Tag() string
	encodeFields() []any
}

// TimeQuery asks the peer to echo a wall-clock stamp.
//
//	Tq[YYYYMMDD, HHMMSSmmm]
type TimeQuery struct {
	YYYYMMDD  int64
	HHMMSSmmm int64
}

func (TimeQuery) Tag() string { return TagTimeQuery }

func (TimeQuery) arity() (int, int) { return 2, 2 }

func (q TimeQuery) encodeFields() []any {
	return []any{q.YYYYMMDD, q.HHMMSSmmm}
}

func (q *TimeQuery) decodeFields(r *fieldReader) {
	r.integer(&q.YYYYMMDD)
	r.integer(&q.HHMMSSmmm)
}

// TimeReply answers a TimeQuery. Offsets are milliseconds since the replying
// endpoint's session start.
//
//	Tr[YYYYMMDD, HHMMSSmmm, rx-msec, tx-msec, profile-id, profile-len]
type TimeReply struct {
	YYYYMMDD   int64
	HHMMSSmmm  int64
	RxMsec     int64
	TxMsec     int64
	ProfileID  int64
	ProfileLen int64
}

func (TimeReply) Tag() string { return TagTimeReply }

// WithSendOffset returns a copy of r stamped with its transmit offset.
func (r TimeReply) WithSendOffset(msec int64) TimeReply {
	r.TxMsec = msec
	return r
}

func (TimeReply) arity() (int, int) { return 6, 6 }

func (r TimeReply) encodeFields() []any {
	return []any{r.YYYYMMDD, r.HHMMSSmmm, r.RxMsec, r.TxMsec, r.ProfileID, r.ProfileLen}
}

func (r *TimeReply) decodeFields(fr *fieldReader) {
	fr.integer(&r.YYYYMMDD)
	fr.integer(&r.HHMMSSmmm)
	fr.integer(&r.RxMsec)
	fr.integer(&r.TxMsec)
	fr.integer(&r.ProfileID)
	fr.integer(&r.ProfileLen)
}

// Message is a generic application message. Body is any JSON value.
//
//	[topic, body, msec=0, schema=""]
type Message struct {
	Topic  string
	Body   json.RawMessage
	Msec   int64
	Schema string
}

func (Message) Tag() string { return TagMessage }

func (Message) arity() (int, int) { return 2, 4 }

func (m Message) encodeFields() []any {
	body := m.Body
	if len(body) == 0 {
		body = json.RawMessage("null")
	}
	return trimDefaults([]any{m.Topic, body, m.Msec, m.Schema}, 2)
}

func (m *Message) decodeFields(r *fieldReader) {
	r.text(&m.Topic)
	r.value(&m.Body)
	r.integer(&m.Msec)
	r.text(&m.Schema)
}

// ProfileEntry is one locally configured profile descriptor. Entries are only
// used to derive the profile identity and are not exchanged on the link.
//
//	Pe[index, type, data]
type ProfileEntry struct {
	Index int64
	Type  string
	Data  []json.RawMessage
}

func (ProfileEntry) Tag() string { return TagProfileEntry }

func (ProfileEntry) arity() (int, int) { return 3, 3 }

func (e ProfileEntry) encodeFields() []any {
	data := e.Data
	if data == nil {
		data = []json.RawMessage{}
	}
	return []any{e.Index, e.Type, data}
}

func (e *ProfileEntry) decodeFields(r *fieldReader) {
	r.integer(&e.Index)
	r.text(&e.Type)
	r.array(&e.Data)
}

// trimDefaults drops trailing zero values beyond the first required fields.
func trimDefaults(vals []any, required int) []any {
	for len(vals) > required && isZero(vals[len(vals)-1]) {
		vals = vals[:len(vals)-1]
	}
	return vals
}

func isZero(v any) bool {
	switch x := v.(type) {
	case int64:
		return x == 0
	case string:
		return x == ""
	default:
		return false
	}
}
