// Package protocol owns the line protocol spoken on a serial link.
//
// Ownership boundary:
// - frame: line grammar, CRC-18 checksum, encode/decode
// - payload: the closed set of tagged payload variants
// - timesync: clock query scheduling and reply construction
// - schema: schema-name classification and lookup
// - session: stream reassembly, dispatch and outbound priority
package protocol
