package payload

import (
	"encoding/binary"
	"fmt"

	"github.com/danmuck/serialrelay/internal/protocol/frame"
	"golang.org/x/crypto/blake2b"
)

// ProfileIdentity digests the canonical wire form of entries, in order, into
// a 32-bit identity. The same profile yields the same identity across
// processes and builds.
func ProfileIdentity(entries []ProfileEntry) (id int64, length int64, err error) {
	var buf []byte
	for i, entry := range entries {
		line, err := ToLine(entry)
		if err != nil {
			return 0, 0, fmt.Errorf("payload: profile entry %d: %w", i, err)
		}
		buf, err = frame.AppendLine(buf, line)
		if err != nil {
			return 0, 0, fmt.Errorf("payload: profile entry %d: %w", i, err)
		}
	}
	sum := blake2b.Sum256(buf)
	return int64(binary.BigEndian.Uint32(sum[:4])), int64(len(entries)), nil
}
