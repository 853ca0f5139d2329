package frame

import (
	"bytes"
	"errors"
	"testing"

	"github.com/danmuck/serialrelay/internal/testutil/testlog"
)

var lineChecks = []struct {
	tag     string
	payload string
	wire    string
}{
	{"PFX", `[1,2,{"x":3}]`, `PFX[1,2,{"x":3}]Xwb`},
	{"", `{"foo":"bar"}`, `{"foo":"bar"}rTj`},
	{"", `null`, `null 28q`},
	{"PFX", `null`, `PFX null 1Dw`},
	{"", `[]`, `[]RRw`},
	{"PFX", `[]`, `PFX[]LQk`},
	{"", `0`, `0 xcB`},
	{"PFX", `0`, `PFX 0 yK0`},
	{"", `31337`, `31337 WZx`},
	{"PFX", `31337`, `PFX 31337 M6b`},
	{"", `1.2345`, `1.2345 _eX`},
	{"PFX", `1.2345`, `PFX 1.2345 Zor`},
}

func TestChecksumCheckValue(t *testing.T) {
	testlog.Start(t)
	if got := Checksum([]byte("123456789")); got != 0x23A17 {
		t.Fatalf("crc18 check value got=0x%x want=0x23a17", got)
	}
}

func TestEncodeVectors(t *testing.T) {
	testlog.Start(t)
	for _, tc := range lineChecks {
		got, err := Encode(Line{Tag: tc.tag, Payload: []byte(tc.payload)})
		if err != nil {
			t.Fatalf("encode %q/%s: %v", tc.tag, tc.payload, err)
		}
		if string(got) != tc.wire {
			t.Fatalf("encode %q/%s got=%q want=%q", tc.tag, tc.payload, got, tc.wire)
		}
	}
}

func TestDecodeVectors(t *testing.T) {
	testlog.Start(t)
	for _, tc := range lineChecks {
		line, err := Decode([]byte(tc.wire))
		if err != nil {
			t.Fatalf("decode %q: %v", tc.wire, err)
		}
		if line.Tag != tc.tag || string(line.Payload) != tc.payload {
			t.Fatalf("decode %q got=%+v", tc.wire, line)
		}
	}
}

func TestDecodeBypassMarker(t *testing.T) {
	testlog.Start(t)
	for _, tc := range lineChecks {
		wire := tc.wire[:len(tc.wire)-ChecksumLen] + BypassMarker
		line, err := Decode([]byte(wire))
		if err != nil {
			t.Fatalf("decode bypass %q: %v", wire, err)
		}
		if line.Tag != tc.tag || string(line.Payload) != tc.payload {
			t.Fatalf("decode bypass %q got=%+v", wire, line)
		}
	}
}

func TestDecodeToleratesSurroundingWhitespace(t *testing.T) {
	testlog.Start(t)
	line, err := Decode([]byte("  PFX null 1Dw \r"))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if line.Tag != "PFX" || string(line.Payload) != "null" {
		t.Fatalf("unexpected line: %+v", line)
	}
}

func TestRoundTripCorpus(t *testing.T) {
	testlog.Start(t)
	payloads := []string{
		`null`, `[]`, `{}`, `0`, `-17`, `3.25e-4`, `true`, `"text with spaces"`,
		`{"a":[1,{"b":null}],"c":"]"}`, `[["nested"],[[]],{}]`,
	}
	for _, tag := range []string{"", "Tq", "Tr", "PFX", "a_1"} {
		for _, p := range payloads {
			in := Line{Tag: tag, Payload: []byte(p)}
			enc, err := Encode(in)
			if err != nil {
				t.Fatalf("encode %+v: %v", in, err)
			}
			out, err := Decode(enc)
			if err != nil {
				t.Fatalf("decode %q: %v", enc, err)
			}
			if !out.Equal(in) {
				t.Fatalf("round trip got=%+v want=%+v (wire %q)", out, in, enc)
			}
		}
	}
}

func TestDecodeDetectsSingleByteCorruption(t *testing.T) {
	testlog.Start(t)
	for _, tc := range lineChecks {
		body := len(tc.wire) - ChecksumLen
		for i := 0; i < body; i++ {
			corrupt := []byte(tc.wire)
			if corrupt[i] == 'q' {
				corrupt[i] = 'r'
			} else {
				corrupt[i] = 'q'
			}
			if _, err := Decode(corrupt); err == nil {
				t.Fatalf("corruption at %d of %q not detected (%q)", i, tc.wire, corrupt)
			}
		}
	}
}

func TestDecodeChecksumMismatchReportsValues(t *testing.T) {
	testlog.Start(t)
	_, err := Decode([]byte(`PFX null 1Dx`))
	var ce *ChecksumError
	if !errors.As(err, &ce) {
		t.Fatalf("expected ChecksumError, got %v", err)
	}
	if ce.Actual != Checksum([]byte("PFX null ")) {
		t.Fatalf("unexpected actual checksum 0x%x", ce.Actual)
	}
	if ce.Expected == ce.Actual {
		t.Fatalf("expected and actual should differ")
	}
}

func TestDecodeRejectsBadFormat(t *testing.T) {
	testlog.Start(t)
	bad := []string{
		``,
		`PFX`,
		`PFX null`,
		`PFX null 1D`,
		`PFX null 1Dw trailing`,
		`PFX-1 null 1Dw`,
		`[1,2 ~~~`,
		`PFX "unterminated 1Dw`,
	}
	for _, in := range bad {
		if _, err := Decode([]byte(in)); !errors.Is(err, ErrBadFormat) {
			t.Fatalf("decode %q expected ErrBadFormat, got %v", in, err)
		}
	}
}

func TestEncodeRejectsInvalidLines(t *testing.T) {
	testlog.Start(t)
	if _, err := Encode(Line{Tag: "P X", Payload: []byte("1")}); !errors.Is(err, ErrInvalidTag) {
		t.Fatalf("expected ErrInvalidTag, got %v", err)
	}
	if _, err := Encode(Line{Tag: "P"}); !errors.Is(err, ErrEmptyPayload) {
		t.Fatalf("expected ErrEmptyPayload, got %v", err)
	}
	if _, err := Encode(Line{Payload: []byte("[1,\n2]")}); !errors.Is(err, ErrNewline) {
		t.Fatalf("expected ErrNewline, got %v", err)
	}
}

func TestAppendLineTerminates(t *testing.T) {
	testlog.Start(t)
	out, err := AppendLine([]byte("prev\n"), Line{Tag: "PFX", Payload: []byte("null")})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if !bytes.Equal(out, []byte("prev\nPFX null 1Dw\n")) {
		t.Fatalf("unexpected output %q", out)
	}
}
