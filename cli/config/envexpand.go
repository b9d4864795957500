// Package config loads the optional gstream.yaml file.
//
// Values may reference the environment as ${VAR} or ${VAR:-default}, so a
// deployment can keep PORT, BAUD_RATE and similar settings in its
// environment instead of the file.
package config

import (
	"os"
	"regexp"
	"strings"
)

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// ExpandEnv substitutes ${VAR} and ${VAR:-default} references from the
// process environment. An empty variable counts as unset. A reference with
// neither value nor default becomes the empty string; the field's own
// validation reports it (an empty port fails the connection check).
func ExpandEnv(input string) string {
	return expand(input, os.LookupEnv)
}

func expand(input string, lookup func(string) (string, bool)) string {
	refs := envRef.FindAllStringSubmatchIndex(input, -1)
	if refs == nil {
		return input
	}
	var b strings.Builder
	last := 0
	for _, m := range refs {
		b.WriteString(input[last:m[0]])
		name := input[m[2]:m[3]]
		switch v, ok := lookup(name); {
		case ok && v != "":
			b.WriteString(v)
		case m[6] >= 0:
			b.WriteString(input[m[6]:m[7]])
		}
		last = m[1]
	}
	b.WriteString(input[last:])
	return b.String()
}
