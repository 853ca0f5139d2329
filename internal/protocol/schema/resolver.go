package schema

import (
	"embed"
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

//go:embed foxglove/*.json
var foxgloveFS embed.FS

// Cached wraps a file system of <name>.json documents and memoizes every
// lookup, hits and misses alike.
type Cached struct {
	fsys fs.FS
	mu   sync.Mutex
	docs map[string][]byte
	miss map[string]struct{}
}

// NewCached serves documents from fsys.
func NewCached(fsys fs.FS) *Cached {
	return &Cached{
		fsys: fsys,
		docs: make(map[string][]byte),
		miss: make(map[string]struct{}),
	}
}

var (
	foxgloveOnce sync.Once
	foxglove     *Cached
)

// Foxglove resolves the bundled Foxglove schemas (Log, Pose, Vector3 and
// friends) by their short name.
func Foxglove() *Cached {
	foxgloveOnce.Do(func() {
		sub, err := fs.Sub(foxgloveFS, "foxglove")
		if err != nil {
			panic(err)
		}
		foxglove = NewCached(sub)
	})
	return foxglove
}

// Dir resolves <dir>/<name>.json from disk.
func Dir(dir string) *Cached {
	return NewCached(os.DirFS(filepath.Clean(dir)))
}

func (c *Cached) Lookup(name string) ([]byte, bool) {
	if !validName(name) {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if doc, ok := c.docs[name]; ok {
		return doc, true
	}
	if _, ok := c.miss[name]; ok {
		return nil, false
	}
	doc, err := fs.ReadFile(c.fsys, name+".json")
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Warn().Err(err).Str("schema", name).Msg("schema read failed")
		}
		c.miss[name] = struct{}{}
		return nil, false
	}
	c.docs[name] = doc
	return doc, true
}

// Names lists the schemas available in the underlying file system.
func (c *Cached) Names() []string {
	matches, err := fs.Glob(c.fsys, "*.json")
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, strings.TrimSuffix(m, ".json"))
	}
	return out
}

func validName(name string) bool {
	if name == "" || strings.ContainsAny(name, `/\`) {
		return false
	}
	return fs.ValidPath(path.Clean(name)) && name != "." && name != ".."
}

// Chain tries each resolver in order and returns the first hit.
type Chain []Resolver

func (c Chain) Lookup(name string) ([]byte, bool) {
	for _, r := range c {
		if r == nil {
			continue
		}
		if doc, ok := r.Lookup(name); ok {
			return doc, true
		}
	}
	return nil, false
}
