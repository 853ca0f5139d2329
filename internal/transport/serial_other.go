//go:build !linux

package transport

func OpenSerial(path string, baud int) (Transport, error) {
	return nil, ErrUnsupported
}
