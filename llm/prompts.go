package llm

import (
	"fmt"
	"strings"
)

// Stage identifies which pipeline step a prompt belongs to
type Stage string

const (
	StageReasoning Stage = "reasoning"
	StagePlanner   Stage = "planner"
	StageExecutor  Stage = "executor"
	StageUnknown   Stage = ""
)

const (
	reasoningMarker = "You are a senior security analyst."
	plannerMarker   = "You are planning containment/validation actions for the following risks."
	executorMarker  = "OUTPUT ONLY read-only jq commands"
)

// ReasoningPrompt asks for a prioritized risk list grounded in the signals
func ReasoningPrompt(signals string) string {
	return reasoningMarker + "\n" +
		"Use ONLY the signals given below. Do not invent users, IPs, devices, or events. " +
		"If information is missing, answer 'No data'.\n\n" +
		"Return a prioritized bullet list of risks with very short justifications.\n\n" +
		"Signals:\n" + signals + "\n"
}

// PlannerPrompt asks for short actions grouped by risk ID
func PlannerPrompt(riskList string) string {
	return plannerMarker + "\n" +
		"Each risk has an ID like R1, R2, etc. Return actions grouped by each risk ID, " +
		"and keep them short, actionable, and specific. No invented users/IPs.\n\n" +
		"FORMAT STRICTLY:\n" +
		"[R#] <one-line risk title>\n" +
		"- <concise action 1>\n" +
		"- <concise action 2>\n" +
		"- <concise action 3>\n\n" +
		"Risks:\n" + riskList + "\n"
}

// ExecutorPrompt asks for one read-only jq command per item over dataFile
func ExecutorPrompt(riskList, plan, dataFile string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Environment:\n  Use direct path: %s\n", dataFile)
	b.WriteString("Constraints:\n")
	fmt.Fprintf(&b, "  - %s operating on %s.\n", executorMarker, dataFile)
	b.WriteString("  - You may pipe to sort|uniq -c|sort -nr|head|wc -l|column -t.\n")
	b.WriteString("  - Do NOT use grep for plain words (e.g., 'lock', 'session', 'MFA').\n")
	b.WriteString("  - Use only real JSON keys present in Okta logs.\n")
	b.WriteString("  - Allowed keys: .actor.alternateId, .outcome.result, .request.ipChain[0].ip, " +
		".request.ipChain[0].geographicalContext.country, .client.ipAddress, " +
		".client.geographicalContext.country, .published\n\n")
	b.WriteString("FORMAT STRICTLY (every Item MUST be immediately followed by a Command line):\n")
	b.WriteString("[R#]\n")
	for i := 0; i < 2; i++ {
		b.WriteString("- Item: <what>\n")
		fmt.Fprintf(&b, "  Command: <jq command using %s>\n", dataFile)
	}
	b.WriteString("\nIf you cannot produce a valid jq command for an item, write exactly:\n")
	b.WriteString("  Command: No data\n\n")
	b.WriteString("Risks:\n" + riskList + "\n\n")
	b.WriteString("Plan (for reference):\n" + plan + "\n")
	return b.String()
}

// DetectStage recognizes the stage a prompt was built for
func DetectStage(prompt string) Stage {
	switch {
	case strings.HasPrefix(prompt, reasoningMarker):
		return StageReasoning
	case strings.HasPrefix(prompt, plannerMarker):
		return StagePlanner
	case strings.Contains(prompt, executorMarker):
		return StageExecutor
	default:
		return StageUnknown
	}
}
