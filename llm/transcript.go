package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrTranscriptExhausted is returned when no recorded response fits a prompt
var ErrTranscriptExhausted = errors.New("transcript has no response for prompt")

// TranscriptEntry is one recorded response.
// Stage and Contains are optional filters; Error makes the call fail.
type TranscriptEntry struct {
	Stage    Stage  `yaml:"stage,omitempty"`
	Contains string `yaml:"contains,omitempty"`
	Text     string `yaml:"text"`
	Error    string `yaml:"error,omitempty"`
}

type transcriptFile struct {
	Responses []TranscriptEntry `yaml:"responses"`
}

// Transcript replays recorded responses in order.
// Each entry answers at most one prompt.
type Transcript struct {
	mu      sync.Mutex
	entries []TranscriptEntry
	used    []bool
}

// NewTranscript creates a transcript from entries
func NewTranscript(entries ...TranscriptEntry) *Transcript {
	return &Transcript{
		entries: entries,
		used:    make([]bool, len(entries)),
	}
}

// ParseTranscript decodes a YAML transcript
func ParseTranscript(data []byte) (*Transcript, error) {
	var f transcriptFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse transcript: %w", err)
	}
	for i, e := range f.Responses {
		switch e.Stage {
		case StageUnknown, StageReasoning, StagePlanner, StageExecutor:
		default:
			return nil, fmt.Errorf("transcript response %d: unknown stage %q", i, e.Stage)
		}
	}
	return NewTranscript(f.Responses...), nil
}

// LoadTranscript reads a YAML transcript from path
func LoadTranscript(path string) (*Transcript, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read transcript %s: %w", path, err)
	}
	return ParseTranscript(data)
}

// Generate returns the first unused entry matching the prompt
func (t *Transcript) Generate(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	stage := DetectStage(prompt)
	for i, e := range t.entries {
		if t.used[i] {
			continue
		}
		if e.Stage != StageUnknown && e.Stage != stage {
			continue
		}
		if e.Contains != "" && !strings.Contains(prompt, e.Contains) {
			continue
		}
		t.used[i] = true
		if e.Error != "" {
			return "", errors.New(e.Error)
		}
		return e.Text, nil
	}
	return "", fmt.Errorf("%w (stage %q)", ErrTranscriptExhausted, stage)
}

// Remaining returns how many entries have not been replayed
func (t *Transcript) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, u := range t.used {
		if !u {
			n++
		}
	}
	return n
}
