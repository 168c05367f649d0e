package repair

import (
	"fmt"
	"regexp"
	"strings"

	"warden/ground"
)

// Okta field paths the catalogue reads
const (
	fieldUser      = `.actor.alternateId`
	fieldResult    = `.outcome.result`
	fieldPublished = `.published`
	fieldIP        = `(.request.ipChain[0].ip // .client.ipAddress)`
	fieldCountry   = `(.request.ipChain[0].geographicalContext.country // .client.geographicalContext.country)`
)

// Intent names the catalogue entry chosen for an item
type Intent string

const (
	IntentNone      Intent = ""
	IntentTimeline  Intent = "timeline"
	IntentCount     Intent = "failure_count"
	IntentAddresses Intent = "addresses"
	IntentCountries Intent = "countries"
)

var (
	timelineWords = regexp.MustCompile(`(?i)\btime\s?line\b|\bchronolog`)
	countWords    = regexp.MustCompile(`(?i)\b(?:count|number|how\s+many|total)\b`)
	addressWords  = regexp.MustCompile(`(?i)\b(?:ips?|ip\s+address(?:es)?|address(?:es)?|source\s+ips?)\b`)
	countryWords  = regexp.MustCompile(`(?i)\b(?:country|countries|geo\w*|location(?:s)?)\b`)
	failureWords  = regexp.MustCompile(`(?i)\bfail\w*|\bden(?:y|ied)\b`)
)

// Catalogue synthesizes safe read-only commands for an item
type Catalogue struct {
	dataFile string
}

// NewCatalogue creates a catalogue producing commands over dataFile
func NewCatalogue(dataFile string) *Catalogue {
	if dataFile == "" {
		dataFile = DefaultDataFile
	}
	return &Catalogue{dataFile: dataFile}
}

// Classify picks the first matching catalogue entry for the item text
func Classify(item string) Intent {
	switch {
	case timelineWords.MatchString(item):
		return IntentTimeline
	case countWords.MatchString(item):
		return IntentCount
	case addressWords.MatchString(item):
		return IntentAddresses
	case countryWords.MatchString(item):
		return IntentCountries
	default:
		return IntentNone
	}
}

// ResolvePrincipal returns the email named in the item, else the risk principal
func ResolvePrincipal(item, riskPrincipal string) string {
	if p := ground.FirstEmail(item); p != "" {
		return p
	}
	return riskPrincipal
}

// Synthesize returns a command for the item, or false when no principal is
// known or no entry matches.
func (c *Catalogue) Synthesize(item, principal string) (string, bool) {
	if principal == "" || ground.FirstEmail(principal) != principal {
		return "", false
	}

	who := fmt.Sprintf(`%s==%q`, fieldUser, principal)
	failed := fmt.Sprintf(`%s and %s=="FAILURE"`, who, fieldResult)

	switch Classify(item) {
	case IntentTimeline:
		return c.jq(fmt.Sprintf(`select(%s) | [%s, %s, %s, %s] | @tsv`, who, fieldPublished, fieldResult, fieldIP, fieldCountry), "sort"), true
	case IntentCount:
		return c.jq(fmt.Sprintf(`select(%s) | %s`, failed, fieldUser), "wc -l"), true
	case IntentAddresses:
		sel := who
		if failureWords.MatchString(item) {
			sel = failed
		}
		return c.jq(fmt.Sprintf(`select(%s) | %s`, sel, fieldIP), "sort", "uniq -c", "sort -nr"), true
	case IntentCountries:
		return c.jq(fmt.Sprintf(`select(%s) | %s`, who, fieldCountry), "sort", "uniq -c", "sort -nr"), true
	default:
		return "", false
	}
}

func (c *Catalogue) jq(filter string, stages ...string) string {
	parts := append([]string{fmt.Sprintf("jq -r '%s' %s", filter, c.dataFile)}, stages...)
	return strings.Join(parts, " | ")
}
