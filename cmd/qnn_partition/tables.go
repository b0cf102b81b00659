package main

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/qnn-ep/ep"
	"github.com/gomlx/qnn-ep/hostgraph"
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Faint(false).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Faint(true).
			PaddingLeft(1).PaddingRight(1)
	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 0, 4)
)

// newTable creates a table with a header. Column alignments not given repeat the last one.
func newTable(header []string, alignments ...lipgloss.Position) *lgtable.Table {
	return lgtable.New().
		Headers(header...).
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if row < 0 {
				s = headerRowStyle
				return
			}
			if row%2 == 0 {
				s = oddRowStyle
			} else {
				s = evenRowStyle
			}
			alignment := lipgloss.Left
			if col < len(alignments) {
				alignment = alignments[col]
			} else if len(alignments) > 0 {
				alignment = alignments[len(alignments)-1]
			}
			return s.Align(alignment)
		})
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return ""
}

func renderSummary(reports []*modelReport) string {
	table := newTable(
		[]string{"Model", "Graph", "# nodes", "# supported", "# partitions", "Context model", "Shared"},
		lipgloss.Left, lipgloss.Left, lipgloss.Right, lipgloss.Right, lipgloss.Right, lipgloss.Center)
	for _, report := range reports {
		summary := report.capability.Summary
		table.Row(report.path, report.capability.GraphName,
			humanize.Comma(int64(summary.NumNodes)),
			humanize.Comma(int64(summary.NumSupportedNodes)),
			humanize.Comma(int64(summary.NumPartitions)),
			yesNo(summary.IsContextModel),
			yesNo(summary.SharedFastPath))
	}
	return table.Render()
}

func renderPartitions(capability *ep.Capability) string {
	table := newTable([]string{"Name", "# nodes", "Op types", "Drop initializers"},
		lipgloss.Left, lipgloss.Right, lipgloss.Left, lipgloss.Center)
	for _, p := range capability.Partitions {
		table.Row(p.Name, humanize.Comma(int64(len(p.Nodes))), strings.Join(p.OpTypes(), ", "),
			yesNo(p.DropConstantInitializers))
	}
	return table.Render()
}

func renderUnsupported(rejected []ep.RejectedNode) string {
	table := newTable([]string{"Node", "Op type", "Reason", "Details"})
	for _, r := range rejected {
		table.Row(hostgraph.NodeToString(r.Node), r.OpType, r.Reason, r.Details)
	}
	return table.Render()
}

func renderMismatches(mismatches []ortMismatch) string {
	table := newTable([]string{"", "Name", "ONNX Runtime", "Host graph"})
	for _, m := range mismatches {
		table.Row(m.direction, m.name, m.ort, m.host)
	}
	return table.Render()
}

func renderSupportedOps(qnn *ep.EP) string {
	registrations := qnn.Registrations()
	table := newTable([]string{"ONNX op type", "QNN op type", "Builder"})
	for _, opType := range registrations.SortedTypes() {
		validator, _ := registrations.Lookup(opType)
		table.Row(opType, validator.QnnOpType(), validator.BuilderType())
	}
	return titleStyle.Render(qnn.Name()+": "+humanize.Comma(int64(registrations.Len()))+" op types") +
		"\n" + table.Render()
}
