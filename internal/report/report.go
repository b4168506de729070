// Package report renders the outcome of a bootstrap run for the terminal
// and derives the process exit status from it.
package report

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/k3boot/k3boot/internal/bootstrap"
)

var (
	colorGreen  = lipgloss.Color("#22c55e")
	colorRed    = lipgloss.Color("#ef4444")
	colorYellow = lipgloss.Color("#eab308")
	colorDim    = lipgloss.Color("#6b7280")
	colorWhite  = lipgloss.Color("#f9fafb")

	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorWhite)
	readyStyle   = lipgloss.NewStyle().Foreground(colorGreen)
	failedStyle  = lipgloss.NewStyle().Foreground(colorRed)
	warningStyle = lipgloss.NewStyle().Foreground(colorYellow)
	dimStyle     = lipgloss.NewStyle().Foreground(colorDim)
)

const (
	checkMark = "[OK]"
	crossMark = "[!!]"
	warnMark  = "[??]"
)

// Render formats the per-node outcomes and the cluster summary.
func Render(result *bootstrap.Result) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(fmt.Sprintf("Cluster %s", result.Cluster)))
	b.WriteString("\n\n")

	for _, node := range result.Nodes {
		b.WriteString(renderNode(node))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(renderSummary(result))
	b.WriteString("\n")
	return b.String()
}

func renderNode(node bootstrap.NodeResult) string {
	line := fmt.Sprintf("%-24s %-20s %s", node.Name, node.Role, node.Phase)

	switch {
	case node.Phase == bootstrap.PhaseFailed:
		line = fmt.Sprintf("%s %s", crossMark, line)
		if node.Err != nil {
			line += dimStyle.Render(fmt.Sprintf("  %v", node.Err))
		}
		return failedStyle.Render(line)
	case node.Err != nil:
		// Reached Ready but with a recorded non-fatal error.
		line = fmt.Sprintf("%s %s", warnMark, line)
		line += dimStyle.Render(fmt.Sprintf("  %v", node.Err))
		return warningStyle.Render(line)
	default:
		line = fmt.Sprintf("%s %s", checkMark, line)
		if node.Retries > 0 {
			line += dimStyle.Render(fmt.Sprintf("  (%d retries)", node.Retries))
		}
		return readyStyle.Render(line)
	}
}

func renderSummary(result *bootstrap.Result) string {
	summary := fmt.Sprintf("control planes ready: %d (quorum %d)",
		result.ReadyControlPlanes, result.Quorum)

	switch {
	case result.InitiatorFailed:
		return failedStyle.Render(fmt.Sprintf("%s cluster initiation failed, %s", crossMark, summary))
	case result.ReadyControlPlanes < result.Quorum:
		return warningStyle.Render(fmt.Sprintf("%s below quorum, %s", warnMark, summary))
	default:
		return readyStyle.Render(fmt.Sprintf("%s cluster ready, %s", checkMark, summary))
	}
}

// ExitCode maps a run outcome to the process exit status.
func ExitCode(result *bootstrap.Result, failBelowQuorum bool) int {
	if result.Failed(failBelowQuorum) {
		return 1
	}
	return 0
}
