package session

// LineResult classifies the outcome of one received line.
type LineResult string

const (
	LineOK          LineResult = "ok"
	LineBadFormat   LineResult = "bad_format"
	LineBadChecksum LineResult = "bad_checksum"
	LineUnknownTag  LineResult = "unknown_tag"
)

// Direction of link traffic.
type Direction string

const (
	Inbound  Direction = "in"
	Outbound Direction = "out"
)

// Observer is notified of link activity. Calls happen on the goroutine that
// owns the Session and must not block.
type Observer interface {
	Line(result LineResult)
	Bytes(dir Direction, n int)
	Overflow()
	Message(dir Direction)
	TimeSync(kind string)
}

type nopObserver struct{}

func (nopObserver) Line(LineResult) {}
func (nopObserver) Bytes(Direction, int) {}
func (nopObserver) Overflow() {}
func (nopObserver) Message(Direction) {}
func (nopObserver) TimeSync(string) {}
