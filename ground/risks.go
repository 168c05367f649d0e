package ground

import (
	"fmt"
	"regexp"
	"strings"

	"warden/core"
)

// bulletPattern matches a top-level bullet: "-", "*", "•", "1." or "1)" followed by text
var bulletPattern = regexp.MustCompile(`^(?:[-*•]|\d{1,3}[.)])\s+(\S.*)$`)

// RiskRegister assigns stable R<n> identifiers to risk bullets.
// IDs are handed out in first-seen order and never renumbered.
type RiskRegister struct {
	items  []core.RiskItem
	byText map[string]int
	byID   map[string]int
}

// NewRiskRegister creates an empty register
func NewRiskRegister() *RiskRegister {
	return &RiskRegister{
		byText: make(map[string]int),
		byID:   make(map[string]int),
	}
}

// RestoreRiskRegister rebuilds a register from items tagged earlier in the run
func RestoreRiskRegister(items []core.RiskItem) (*RiskRegister, error) {
	r := NewRiskRegister()
	for _, it := range items {
		if it.ID == "" {
			return nil, fmt.Errorf("risk item %q has no id", it.Text)
		}
		if _, dup := r.byID[it.ID]; dup {
			return nil, fmt.Errorf("duplicate risk id %s", it.ID)
		}
		r.byID[it.ID] = len(r.items)
		if _, ok := r.byText[it.Text]; !ok {
			r.byText[it.Text] = len(r.items)
		}
		r.items = append(r.items, it)
	}
	return r, nil
}

// ParseBullets returns the text of every top-level bullet line in order
func ParseBullets(text string) []string {
	var out []string
	for _, ln := range strings.Split(text, "\n") {
		m := bulletPattern.FindStringSubmatch(strings.TrimRight(ln, " \t\r"))
		if m == nil {
			continue
		}
		out = append(out, strings.TrimSpace(m[1]))
	}
	return out
}

// Tag registers the bullets in text and returns them with their IDs, in text order.
// A bullet already registered keeps its original ID.
func (r *RiskRegister) Tag(text string) []core.RiskItem {
	var out []core.RiskItem
	for _, body := range ParseBullets(text) {
		out = append(out, r.add(body))
	}
	return out
}

// EnsureNonEmpty registers the No data sentinel when nothing was tagged
func (r *RiskRegister) EnsureNonEmpty() {
	if len(r.items) == 0 {
		r.add(core.NoData)
	}
}

func (r *RiskRegister) add(body string) core.RiskItem {
	if idx, ok := r.byText[body]; ok {
		return r.items[idx]
	}
	item := core.RiskItem{
		ID:        fmt.Sprintf("R%d", len(r.items)+1),
		Text:      body,
		Principal: FirstEmail(body),
	}
	r.byText[body] = len(r.items)
	r.byID[item.ID] = len(r.items)
	r.items = append(r.items, item)
	return item
}

// PrincipalFor returns the inferred principal of a risk
func (r *RiskRegister) PrincipalFor(id string) (string, bool) {
	idx, ok := r.byID[strings.ToUpper(strings.TrimSpace(id))]
	if !ok || r.items[idx].Principal == "" {
		return "", false
	}
	return r.items[idx].Principal, true
}

// Get returns the risk with the given ID
func (r *RiskRegister) Get(id string) (core.RiskItem, bool) {
	idx, ok := r.byID[strings.ToUpper(strings.TrimSpace(id))]
	if !ok {
		return core.RiskItem{}, false
	}
	return r.items[idx], true
}

// Items returns a copy of every risk in ID order
func (r *RiskRegister) Items() []core.RiskItem {
	out := make([]core.RiskItem, len(r.items))
	copy(out, r.items)
	return out
}

// Len returns the number of registered risks
func (r *RiskRegister) Len() int {
	return len(r.items)
}

// String renders the register as "R1: text" lines
func (r *RiskRegister) String() string {
	var b strings.Builder
	for i, it := range r.items {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s: %s", it.ID, it.Text)
	}
	return b.String()
}
