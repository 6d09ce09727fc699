package entities

import (
	"sort"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// PathPattern is a single filesystem directory grant. Recursive is carried
// on the wire and in Hash, but the capability compiler does not act on it:
// the directory is mounted whole (subdirectories included) either way.
type PathPattern struct {
	Pattern   string `msgpack:"pattern" yaml:"pattern" json:"pattern"`
	Recursive bool   `msgpack:"recursive" yaml:"recursive" json:"recursive"`
}

// Capabilities is the declarative permission set a plugin manifest requests,
// and the set a host grants. Order within FSRead/FSWrite is significant for
// Hash and for the order of preopened directories (§4.3); Env and Net are
// unordered pattern sets.
//
// Capabilities is comparable by value via Equal and content-addressed via
// Hash, which StoredPermission and the permission engine use to detect
// escalation between a previously granted set and a newly requested one.
type Capabilities struct {
	FSRead  []PathPattern `msgpack:"fs_read" yaml:"fs_read,omitempty" json:"fs_read,omitempty"`
	FSWrite []PathPattern `msgpack:"fs_write" yaml:"fs_write,omitempty" json:"fs_write,omitempty"`
	Env     []string      `msgpack:"env" yaml:"env,omitempty" json:"env,omitempty"`
	Net     []string      `msgpack:"net" yaml:"net,omitempty" json:"net,omitempty"`
	Stdin   bool          `msgpack:"stdin" yaml:"stdin,omitempty" json:"stdin,omitempty"`
	Stdout  bool          `msgpack:"stdout" yaml:"stdout,omitempty" json:"stdout,omitempty"`
	Stderr  bool          `msgpack:"stderr" yaml:"stderr,omitempty" json:"stderr,omitempty"`
}

// IsEmpty reports whether this set grants nothing at all.
func (c Capabilities) IsEmpty() bool {
	return len(c.FSRead) == 0 && len(c.FSWrite) == 0 && len(c.Env) == 0 &&
		len(c.Net) == 0 && !c.Stdin && !c.Stdout && !c.Stderr
}

// Equal reports structural equality: same patterns, in the same order for
// FSRead/FSWrite, same membership (order-independent) for Env/Net.
func (c Capabilities) Equal(other Capabilities) bool {
	return c.Hash() == other.Hash()
}

// Hash returns a stable content digest of c, independent of the in-memory
// representation but sensitive to every field the wire format carries.
// Env and Net are sorted before hashing so two Capabilities values that
// differ only in pattern order still compare equal.
func (c Capabilities) Hash() string {
	d := xxhash.New()
	for _, p := range c.FSRead {
		writeHashEntry(d, "r", p.Pattern, p.Recursive)
	}
	for _, p := range c.FSWrite {
		writeHashEntry(d, "w", p.Pattern, p.Recursive)
	}
	env := append([]string(nil), c.Env...)
	sort.Strings(env)
	for _, e := range env {
		_, _ = d.WriteString("e:" + e + "\x00")
	}
	net := append([]string(nil), c.Net...)
	sort.Strings(net)
	for _, n := range net {
		_, _ = d.WriteString("n:" + n + "\x00")
	}
	_, _ = d.WriteString("stdio:" + boolChar(c.Stdin) + boolChar(c.Stdout) + boolChar(c.Stderr))
	return strconv.FormatUint(d.Sum64(), 16)
}

func writeHashEntry(d *xxhash.Digest, tag, pattern string, recursive bool) {
	_, _ = d.WriteString(tag + ":" + pattern + ":" + boolChar(recursive) + "\x00")
}

func boolChar(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
