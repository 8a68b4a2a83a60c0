// Package targethash implements the fingerprint string grammar from spec
// §4.9: `(kind '#')? transitive ('~' direct)?`, splitting on the first
// '#' and first '~'.
package targethash

import (
	"strings"

	"github.com/thought-machine/hashdiff/src/herrors"
)

// Hash is a parsed TargetHashString (spec §3). Kind and Direct are empty
// when absent from the input; Overall (the grammar's "transitive" term)
// is always nonempty for a successfully parsed Hash.
type Hash struct {
	Kind    string
	Overall string
	Direct  string
}

// Render produces the canonical string form of h: `kind#overall~direct`,
// omitting the `kind#` prefix or `~direct` suffix when empty.
func (h Hash) Render() string {
	var b strings.Builder
	if h.Kind != "" {
		b.WriteString(h.Kind)
		b.WriteByte('#')
	}
	b.WriteString(h.Overall)
	if h.Direct != "" {
		b.WriteByte('~')
		b.WriteString(h.Direct)
	}
	return b.String()
}

// Parse parses raw per spec §4.9. Empty `transitive` is rejected.
func Parse(raw string) (Hash, error) {
	var h Hash
	rest := raw
	if idx := strings.Index(rest, "#"); idx != -1 {
		h.Kind = rest[:idx]
		rest = rest[idx+1:]
	}
	if idx := strings.Index(rest, "~"); idx != -1 {
		h.Overall = rest[:idx]
		h.Direct = rest[idx+1:]
	} else {
		h.Overall = rest
	}
	if h.Overall == "" {
		return Hash{}, &herrors.ConfigInvalid{Message: "target hash string has empty transitive component: " + raw}
	}
	return h, nil
}
