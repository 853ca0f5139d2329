package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/danmuck/serialrelay/internal/logging"
	"github.com/danmuck/serialrelay/internal/protocol/frame"
	"github.com/danmuck/serialrelay/internal/protocol/session"
	"github.com/danmuck/serialrelay/internal/relay"
	"github.com/danmuck/serialrelay/internal/sinks"
	"github.com/danmuck/serialrelay/internal/transport"
)

type options struct {
	mode    string
	tag     string
	payload string
	address string
	device  string
	baud    int
}

func main() {
	opts := parseFlags()
	logging.ConfigureRuntime()

	var err error
	switch opts.mode {
	case "encode":
		err = runEncode(opts, os.Stdout)
	case "decode":
		err = runDecode(os.Stdin, os.Stdout)
	case "checksum":
		err = runChecksum(os.Stdin, os.Stdout)
	case "monitor":
		err = runMonitor(opts, os.Stdout)
	default:
		err = fmt.Errorf("unknown mode %q (supported: encode, decode, checksum, monitor)", opts.mode)
	}
	if err != nil {
		fatalf("%v", err)
	}
}

func parseFlags() options {
	var opts options
	flag.StringVar(&opts.mode, "mode", "decode", "mode: encode | decode | checksum | monitor")
	flag.StringVar(&opts.tag, "tag", "", "line tag (encode mode)")
	flag.StringVar(&opts.payload, "payload", "", "payload bytes (encode mode)")
	flag.StringVar(&opts.address, "address", "", "tcp host:port (monitor mode)")
	flag.StringVar(&opts.device, "device", "", "serial device (monitor mode)")
	flag.IntVar(&opts.baud, "baud", 115200, "serial baud rate (monitor mode)")
	flag.Parse()
	return opts
}

func runEncode(opts options, w io.Writer) error {
	out, err := frame.AppendLine(nil, frame.Line{Tag: opts.tag, Payload: []byte(opts.payload)})
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}

// runDecode checks every input line and reports its tag and payload, or why
// it was rejected.
func runDecode(r io.Reader, w io.Writer) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), session.MaxMaxLineBytes)
	n := 0
	for sc.Scan() {
		n++
		raw := sc.Bytes()
		if len(strings.TrimSpace(string(raw))) == 0 {
			continue
		}
		line, err := frame.Decode(raw)
		var ce *frame.ChecksumError
		switch {
		case errors.As(err, &ce):
			fmt.Fprintf(w, "%d\tBAD_CHECKSUM\tgot=0x%05x want=0x%05x\n", n, ce.Expected, ce.Actual)
		case err != nil:
			fmt.Fprintf(w, "%d\tBAD_FORMAT\t%v\n", n, err)
		default:
			fmt.Fprintf(w, "%d\tOK\ttag=%q payload=%s\n", n, line.Tag, line.Payload)
		}
	}
	return sc.Err()
}

func runChecksum(r io.Reader, w io.Writer) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	data = []byte(strings.TrimRight(string(data), "\r\n"))
	_, err = fmt.Fprintf(w, "0x%05x\n", frame.Checksum(data))
	return err
}

type printSink struct {
	w io.Writer
}

func (printSink) Name() string { return "stdout" }

func (s printSink) Publish(_ context.Context, m session.ReceivedMessage) error {
	out, err := sinks.Marshal(m)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(s.w, "%s\n", out)
	return err
}

// runMonitor attaches to a link and prints every decoded message as JSON.
// It answers time queries like any other endpoint would.
func runMonitor(opts options, w io.Writer) error {
	var dial transport.Dialer
	switch {
	case opts.device != "":
		dial = transport.SerialDialer(opts.device, opts.baud)
	case opts.address != "":
		dial = transport.TCPDialer(opts.address)
	default:
		return errors.New("monitor needs -device or -address")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	t, err := transport.DialWithRetry(connectCtx, dial, transport.DefaultBackoff(), nil)
	cancel()
	if err != nil {
		return err
	}
	r := relay.New(relay.DefaultConfig(), relay.WithSinks(printSink{w: w}))
	if err := r.Run(ctx, t); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "linectl: "+format+"\n", args...)
	os.Exit(1)
}
