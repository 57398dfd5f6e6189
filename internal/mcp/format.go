package mcp

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// statusIcon maps a flow outcome to a readable marker.
func statusIcon(status string) string {
	switch status {
	case "ok":
		return "✓"
	case "skip":
		return "~"
	case "fail":
		return "✗"
	default:
		return "?"
	}
}

// section returns a markdown section header.
func section(title string) string {
	return "## " + title
}

// joinLines joins non-empty lines with newlines.
func joinLines(lines ...string) string {
	var result []string
	for _, l := range lines {
		if l != "" {
			result = append(result, l)
		}
	}
	return strings.Join(result, "\n")
}

type flowStatus struct {
	Flow     string    `json:"flow"`
	Status   string    `json:"status"`
	SealedAt time.Time `json:"sealedAt"`
}

type statusResponse struct {
	Flows       []flowStatus `json:"flows"`
	GeneratedAt time.Time    `json:"generatedAt"`
}

// formatStatus renders /v1/status as readable markdown.
func formatStatus(raw json.RawMessage) string {
	var resp statusResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return string(raw)
	}
	if len(resp.Flows) == 0 {
		return "No flow runs recorded yet."
	}

	lines := []string{section("Flow Status"), ""}
	for _, f := range resp.Flows {
		lines = append(lines, fmt.Sprintf("%s %-20s %-5s sealed %s ago",
			statusIcon(f.Status), f.Flow, strings.ToUpper(f.Status),
			time.Since(f.SealedAt).Round(time.Second)))
	}
	return joinLines(lines...)
}

type runStep struct {
	Name      string  `json:"name"`
	LatencyMs int64   `json:"latencyMs"`
	GasUsed   uint64  `json:"gasUsed,omitempty"`
	GasCost   float64 `json:"gasCost,omitempty"`
}

type run struct {
	ID       int64     `json:"id"`
	Status   string    `json:"status"`
	SealedAt time.Time `json:"sealedAt"`
	Steps    []runStep `json:"steps,omitempty"`
}

type runsResponse struct {
	Flow string `json:"flow"`
	Runs []run  `json:"runs"`
}

// formatRuns renders /v1/runs as readable markdown.
func formatRuns(raw json.RawMessage) string {
	var resp runsResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return string(raw)
	}
	if len(resp.Runs) == 0 {
		return fmt.Sprintf("No runs recorded for flow %q.", resp.Flow)
	}

	lines := []string{section("Runs: " + resp.Flow), ""}
	for _, r := range resp.Runs {
		lines = append(lines, fmt.Sprintf("%s run #%d %-5s sealed %s",
			statusIcon(r.Status), r.ID, strings.ToUpper(r.Status),
			r.SealedAt.Format(time.RFC3339)))
		for _, step := range r.Steps {
			detail := fmt.Sprintf("    %-22s %dms", step.Name, step.LatencyMs)
			if step.GasUsed > 0 {
				detail += fmt.Sprintf("  gas=%d", step.GasUsed)
			}
			lines = append(lines, detail)
		}
	}
	return joinLines(lines...)
}
