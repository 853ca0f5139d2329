// Package schema classifies the schema field carried by inbound messages and
// resolves named schemas into their JSON Schema documents.
//
// Schema names take one of three forms:
//
//	""            no schema
//	json:<doc>    the remainder is the schema document itself
//	fox:<name>    a named schema looked up through a Resolver
//
// Anything else is invalid. Lookups that fail and invalid names are never
// raised as errors; they become sentinel values carried with the message.
package schema

import (
	"strings"

	"github.com/rs/zerolog/log"
)

const (
	PrefixInline = "json:"
	PrefixNamed  = "fox:"

	SentinelNotFound = "ERROR:NOTFOUND:"
	SentinelInvalid  = "ERROR:INVALID:"
)

// Resolver maps a schema name to its document.
type Resolver interface {
	Lookup(name string) ([]byte, bool)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(name string) ([]byte, bool)

func (f ResolverFunc) Lookup(name string) ([]byte, bool) {
	return f(name)
}

// Classify turns a message's schema name into the schema bytes delivered with
// it. An empty name yields nil. A nil resolver resolves nothing.
func Classify(name string, r Resolver) []byte {
	switch {
	case name == "":
		return nil
	case strings.HasPrefix(name, PrefixInline):
		return []byte(name[len(PrefixInline):])
	case strings.HasPrefix(name, PrefixNamed):
		key := name[len(PrefixNamed):]
		if r != nil {
			if doc, ok := r.Lookup(key); ok {
				return doc
			}
		}
		log.Warn().Str("schema", name).Msg("schema not found")
		return []byte(SentinelNotFound + name)
	default:
		log.Warn().Str("schema", name).Msg("invalid schema name")
		return []byte(SentinelInvalid + name)
	}
}

// IsSentinel reports whether doc is one of the failure markers produced by
// Classify.
func IsSentinel(doc []byte) bool {
	s := string(doc)
	return strings.HasPrefix(s, SentinelNotFound) || strings.HasPrefix(s, SentinelInvalid)
}
