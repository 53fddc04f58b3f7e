package license

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
	"regexp"
	"strings"
)

const (
	// DefaultPrefix is prepended to every generated key string.
	DefaultPrefix = "AOV-VN-"

	// DefaultSuffixLength is the number of random characters after the prefix.
	DefaultSuffixLength = 10

	// MinSuffixLength keeps the keyspace (36^10) large enough that collisions
	// are resolved by the store's uniqueness constraint, not prevented here.
	MinSuffixLength = 10

	alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// Generator produces key strings of the form prefix + random suffix drawn
// from uppercase letters and digits. It is safe for concurrent use as long
// as its random source is; the default source is crypto/rand.
type Generator struct {
	prefix string
	length int
	rand   io.Reader
}

// NewGenerator returns a Generator. An empty prefix selects DefaultPrefix and
// a length below MinSuffixLength is raised to it.
func NewGenerator(prefix string, length int) *Generator {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if length < MinSuffixLength {
		length = MinSuffixLength
	}
	return &Generator{prefix: prefix, length: length, rand: rand.Reader}
}

// WithSource returns a copy of g that reads randomness from r.
func (g *Generator) WithSource(r io.Reader) *Generator {
	c := *g
	c.rand = r
	return &c
}

// Prefix returns the fixed key prefix.
func (g *Generator) Prefix() string { return g.prefix }

// Next returns a new key string.
func (g *Generator) Next() (string, error) {
	max := big.NewInt(int64(len(alphabet)))
	var b strings.Builder
	b.Grow(len(g.prefix) + g.length)
	b.WriteString(g.prefix)
	for i := 0; i < g.length; i++ {
		n, err := rand.Int(g.rand, max)
		if err != nil {
			return "", fmt.Errorf("read random source: %w", err)
		}
		b.WriteByte(alphabet[n.Int64()])
	}
	return b.String(), nil
}

// Pattern returns a regular expression matching keys produced by g.
func (g *Generator) Pattern() *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf(`^%s[A-Z0-9]{%d}$`, regexp.QuoteMeta(g.prefix), g.length))
}
