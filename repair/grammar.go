package repair

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
)

// DefaultDataFile is the only file commands may read
const DefaultDataFile = "okta-logs.txt"

// DefaultLexTimeout bounds jq filter lexing on untrusted text
const DefaultLexTimeout = 200 * time.Millisecond

var (
	// ErrUnsafeCommand is returned for any command outside the safety grammar
	ErrUnsafeCommand = errors.New("unsafe command")
	// ErrLexTimeout is returned when the jq filter lexer exceeds its budget
	ErrLexTimeout = errors.New("jq filter lexing timed out")
)

var (
	jqFlags = map[string]bool{
		"-r": true, "-c": true, "-s": true, "-M": true, "-S": true,
		"--raw-output": true, "--compact-output": true, "--slurp": true, "--sort-keys": true,
	}

	jqIdentifiers = map[string]bool{
		"select": true, "and": true, "or": true, "not": true, "length": true,
		"unique": true, "unique_by": true, "sort": true, "sort_by": true, "group_by": true,
		"map": true, "test": true, "ascii_downcase": true, "ascii_upcase": true,
		"keys": true, "has": true, "contains": true, "startswith": true, "endswith": true,
		"first": true, "last": true, "add": true, "min_by": true, "max_by": true,
		"tostring": true, "tonumber": true, "values": true, "reverse": true, "join": true,
		"if": true, "then": true, "elif": true, "else": true, "end": true,
		"true": true, "false": true, "null": true, "empty": true,
		"@tsv": true, "@csv": true, "@json": true, "@text": true,
	}

	// jq tokens: string literal, field access, format, identifier, variable, anything else
	jqTokenPattern = `"(?:[^"\\]|\\.)*"|\.[A-Za-z_][A-Za-z0-9_]*|@[A-Za-z0-9_]+|[A-Za-z_][A-Za-z0-9_]*|\$[A-Za-z0-9_]*|\s+|.`

	sortFlag  = regexp.MustCompile(`^-[nru]{1,3}$`)
	sortKey   = regexp.MustCompile(`^\d+(?:,\d+)?[nr]{0,2}$`)
	headCount = regexp.MustCompile(`^\d{1,6}$`)
	grepFlag  = regexp.MustCompile(`^-[ivEFc]{1,4}$`)
)

// word is one shell word after quote removal
type word struct {
	text  string
	quote byte // 0, '\'' or '"'
}

// Grammar validates generated shell commands against the read-only jq pipeline grammar
type Grammar struct {
	dataFile string
	lexer    *regexp2.Regexp
}

// NewGrammar creates a grammar bound to dataFile.
// An empty dataFile selects DefaultDataFile.
func NewGrammar(dataFile string) *Grammar {
	if dataFile == "" {
		dataFile = DefaultDataFile
	}
	lexer := regexp2.MustCompile(jqTokenPattern, regexp2.None)
	lexer.MatchTimeout = DefaultLexTimeout
	return &Grammar{dataFile: dataFile, lexer: lexer}
}

// DataFile returns the only file commands may name
func (g *Grammar) DataFile() string {
	return g.dataFile
}

// Valid reports whether cmd passes Validate
func (g *Grammar) Valid(cmd string) bool {
	return g.Validate(cmd) == nil
}

// Validate returns nil when cmd is a read-only jq pipeline over the data file
func (g *Grammar) Validate(cmd string) error {
	cmd = strings.TrimSpace(cmd)
	if cmd == "" {
		return fmt.Errorf("%w: empty command", ErrUnsafeCommand)
	}

	stages, err := splitPipeline(cmd)
	if err != nil {
		return err
	}

	if err := g.validateJQ(stages[0]); err != nil {
		return err
	}
	for _, st := range stages[1:] {
		if err := validateStage(st); err != nil {
			return err
		}
	}

	// The data file is named exactly once across the whole pipeline
	uses := 0
	for _, st := range stages {
		for _, w := range st {
			if w.text == g.dataFile {
				uses++
			}
		}
	}
	if uses != 1 {
		return fmt.Errorf("%w: data file %s named %d times", ErrUnsafeCommand, g.dataFile, uses)
	}
	return nil
}

func (g *Grammar) validateJQ(st []word) error {
	if len(st) == 0 || st[0].quote != 0 || st[0].text != "jq" {
		return fmt.Errorf("%w: first stage must be jq", ErrUnsafeCommand)
	}

	var filters, files int
	for _, w := range st[1:] {
		switch {
		case w.quote == '\'':
			filters++
			if err := g.validateFilter(w.text); err != nil {
				return err
			}
		case w.quote == 0 && jqFlags[w.text]:
		case w.quote == 0 && w.text == g.dataFile:
			files++
		default:
			return fmt.Errorf("%w: unexpected jq argument %q", ErrUnsafeCommand, w.text)
		}
	}

	if filters != 1 {
		return fmt.Errorf("%w: jq needs exactly one single-quoted filter, got %d", ErrUnsafeCommand, filters)
	}
	if files != 1 {
		return fmt.Errorf("%w: jq must read %s", ErrUnsafeCommand, g.dataFile)
	}
	return nil
}

// validateFilter restricts jq identifiers to the allowed set
func (g *Grammar) validateFilter(filter string) error {
	if strings.TrimSpace(filter) == "" {
		return fmt.Errorf("%w: empty jq filter", ErrUnsafeCommand)
	}

	m, err := g.lexer.FindStringMatch(filter)
	for ; m != nil && err == nil; m, err = g.lexer.FindNextMatch(m) {
		tok := m.String()
		switch {
		case tok == `"`:
			return fmt.Errorf("%w: unterminated string in jq filter", ErrUnsafeCommand)
		case strings.HasPrefix(tok, `"`), strings.HasPrefix(tok, "."):
			// String literals and field access
		case strings.HasPrefix(tok, "$"):
			return fmt.Errorf("%w: jq variables are not allowed", ErrUnsafeCommand)
		case isIdentStart(tok[0]):
			if !jqIdentifiers[tok] {
				return fmt.Errorf("%w: jq identifier %q not allowed", ErrUnsafeCommand, tok)
			}
		case tok[0] == '@':
			if !jqIdentifiers[tok] {
				return fmt.Errorf("%w: jq format %q not allowed", ErrUnsafeCommand, tok)
			}
		}
	}
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "timeout") {
			return ErrLexTimeout
		}
		return fmt.Errorf("%w: %v", ErrUnsafeCommand, err)
	}
	return nil
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// validateStage checks one downstream filter stage
func validateStage(st []word) error {
	if len(st) == 0 {
		return fmt.Errorf("%w: empty pipeline stage", ErrUnsafeCommand)
	}
	name, args := st[0], st[1:]
	if name.quote != 0 {
		return fmt.Errorf("%w: quoted program name", ErrUnsafeCommand)
	}

	for _, a := range args {
		if a.quote != 0 && name.text != "grep" {
			return fmt.Errorf("%w: %s takes no quoted arguments", ErrUnsafeCommand, name.text)
		}
	}

	ok := false
	switch name.text {
	case "sort":
		ok = validSortArgs(args)
	case "uniq":
		ok = len(args) == 0 || (len(args) == 1 && args[0].text == "-c")
	case "wc":
		ok = len(args) == 1 && args[0].text == "-l"
	case "head":
		ok = len(args) == 0 ||
			(len(args) == 1 && strings.HasPrefix(args[0].text, "-") && headCount.MatchString(args[0].text[1:])) ||
			(len(args) == 2 && args[0].text == "-n" && headCount.MatchString(args[1].text))
	case "column":
		ok = len(args) == 1 && args[0].text == "-t"
	case "grep":
		ok = validGrepArgs(args)
	default:
		return fmt.Errorf("%w: program %q not allowed", ErrUnsafeCommand, name.text)
	}

	if !ok {
		return fmt.Errorf("%w: bad arguments for %s", ErrUnsafeCommand, name.text)
	}
	return nil
}

func validSortArgs(args []word) bool {
	for i := 0; i < len(args); i++ {
		a := args[i].text
		switch {
		case sortFlag.MatchString(a):
		case a == "-k" && i+1 < len(args) && sortKey.MatchString(args[i+1].text):
			i++
		default:
			return false
		}
	}
	return true
}

// grep takes optional flags and exactly one quoted pattern, never a file
func validGrepArgs(args []word) bool {
	patterns := 0
	for _, a := range args {
		switch {
		case a.quote != 0:
			patterns++
		case grepFlag.MatchString(a.text):
		default:
			return false
		}
	}
	return patterns == 1
}

// splitPipeline splits cmd into pipe-separated stages of words.
// Quotes are honoured; any shell metacharacter outside quotes other than a
// single pipe is rejected.
func splitPipeline(cmd string) ([][]word, error) {
	var (
		stages [][]word
		cur    []word
		buf    strings.Builder
		quote  byte
		inWord bool
		quoted byte
	)

	flush := func() {
		if inWord {
			cur = append(cur, word{text: buf.String(), quote: quoted})
		}
		buf.Reset()
		inWord = false
		quoted = 0
	}

	for i := 0; i < len(cmd); i++ {
		c := cmd[i]

		if quote != 0 {
			if c == quote {
				quote = 0
				continue
			}
			if quote == '"' && (c == '$' || c == '`' || c == '\\') {
				return nil, fmt.Errorf("%w: expansion inside double quotes", ErrUnsafeCommand)
			}
			buf.WriteByte(c)
			continue
		}

		switch c {
		case ' ', '\t':
			flush()
		case '\'', '"':
			if inWord && quoted == 0 && buf.Len() > 0 {
				return nil, fmt.Errorf("%w: quote inside bare word", ErrUnsafeCommand)
			}
			inWord = true
			quoted = c
			quote = c
		case '|':
			flush()
			if i+1 < len(cmd) && cmd[i+1] == '|' {
				return nil, fmt.Errorf("%w: command chaining", ErrUnsafeCommand)
			}
			if len(cur) == 0 {
				return nil, fmt.Errorf("%w: empty pipeline stage", ErrUnsafeCommand)
			}
			stages = append(stages, cur)
			cur = nil
		case ';', '&', '>', '<', '`', '$', '(', ')', '{', '}', '\\', '\n', '\r', '*', '?', '~', '#', '!':
			return nil, fmt.Errorf("%w: shell metacharacter %q outside quotes", ErrUnsafeCommand, c)
		default:
			if quoted != 0 {
				return nil, fmt.Errorf("%w: text after closing quote", ErrUnsafeCommand)
			}
			inWord = true
			buf.WriteByte(c)
		}
	}

	if quote != 0 {
		return nil, fmt.Errorf("%w: unterminated quote", ErrUnsafeCommand)
	}
	flush()
	if len(cur) == 0 {
		return nil, fmt.Errorf("%w: empty pipeline stage", ErrUnsafeCommand)
	}
	return append(stages, cur), nil
}
