// Package session binds the frame codec, the payload registry and the time
// tracker to one link.
//
// A Session is fed raw transport chunks of any size, reassembles them into
// newline-terminated lines, and dispatches each decoded line in fixed order:
// TimeQuery, TimeReply, then Message. Decoded messages queue until the caller
// drains them. Outbound time traffic is produced on demand by NextOutbound.
//
// A Session is not safe for concurrent use. It never reads a clock; every
// operation takes the caller's timestamp.
//
// Failure handling:
// - framing errors are logged at debug and dropped
// - checksum mismatches are logged at warn with expected/actual values
// - lines no variant claims are logged at warn as unknown
// - a buffer that grows past MaxLineBytes without a newline is reset
package session
