package ground

import (
	"strings"
)

// SuppressResult is the outcome of one suppression pass
type SuppressResult struct {
	Text    string   `json:"text" yaml:"text"`
	Dropped int      `json:"dropped" yaml:"dropped"`
	Unknown []string `json:"unknown,omitempty" yaml:"unknown,omitempty"`
}

// Suppress removes every line that names an email or IP absent from the allowlist.
// Lines are dropped whole; surviving lines keep their exact bytes.
// A nil or empty allowlist treats every entity as unknown.
func Suppress(text string, allow *Allowlist) SuppressResult {
	if text == "" {
		return SuppressResult{}
	}

	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))
	res := SuppressResult{}
	seen := make(map[string]struct{})

	for _, ln := range lines {
		unknown := unknownEntities(ln, allow)
		if len(unknown) == 0 {
			kept = append(kept, ln)
			continue
		}
		res.Dropped++
		for _, u := range unknown {
			if _, dup := seen[u]; !dup {
				seen[u] = struct{}{}
				res.Unknown = append(res.Unknown, u)
			}
		}
	}

	res.Text = strings.Join(kept, "\n")
	return res
}

// Grounded reports whether every entity named in text is in the allowlist
func Grounded(text string, allow *Allowlist) bool {
	for _, ln := range strings.Split(text, "\n") {
		if len(unknownEntities(ln, allow)) > 0 {
			return false
		}
	}
	return true
}

func unknownEntities(line string, allow *Allowlist) []string {
	var out []string
	for _, e := range Entities(line) {
		if !allow.Allows(e) {
			out = append(out, e.Value)
		}
	}
	return out
}
