package pipeline

import (
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// KeyGenerator hands out object keys of the form {unixMillis}-{name}.
// Stamps are strictly increasing per generator, so two keys never share
// a prefix even when issued within the same millisecond.
type KeyGenerator struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

// NewKeyGenerator uses the wall clock.
func NewKeyGenerator() *KeyGenerator {
	return &KeyGenerator{now: time.Now}
}

// Next returns the key for name.
func (g *KeyGenerator) Next(name string) string {
	g.mu.Lock()
	ms := g.now().UnixMilli()
	if ms <= g.last {
		ms = g.last + 1
	}
	g.last = ms
	g.mu.Unlock()

	return strconv.FormatInt(ms, 10) + "-" + SanitizeName(name)
}

// SanitizeName keeps the base name and replaces anything outside
// [A-Za-z0-9._-] with '_'.
func SanitizeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" {
		name = ""
	}

	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	out := strings.TrimLeft(b.String(), ".")
	if out == "" {
		return "photo"
	}
	return out
}
