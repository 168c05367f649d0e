package ingest

import (
	"regexp"
	"strings"
)

var kvPair = regexp.MustCompile(`([\w.]+)=("(?:[^"\\]|\\.)*"|\S+)`)

var kvUnescape = strings.NewReplacer(`\"`, `"`, `\\`, `\`)

// ParseKVLine parses key=value pairs from one line.
// Keys may be dotted; values may be double-quoted with \" and \\ escapes.
func ParseKVLine(line string) map[string]interface{} {
	matches := kvPair.FindAllStringSubmatch(line, -1)
	if len(matches) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(matches))
	for _, m := range matches {
		v := m[2]
		if len(v) >= 2 && strings.HasPrefix(v, `"`) && strings.HasSuffix(v, `"`) {
			v = kvUnescape.Replace(v[1 : len(v)-1])
		}
		out[m[1]] = v
	}
	return out
}
