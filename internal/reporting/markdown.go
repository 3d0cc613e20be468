package reporting

import (
	"fmt"
	"strings"
	"time"
)

// RenderMarkdown renders report as Markdown string.
func RenderMarkdown(r *Report) string {
	var sb strings.Builder

	sb.WriteString("# Deals Report\n\n")
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("Range: %s .. %s\n\n", r.RangeStart.Format(time.RFC3339), r.RangeEnd.Format(time.RFC3339)))

	// Summary
	s := r.Summary
	sb.WriteString("## Summary\n\n")
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Deals | %d |\n", s.TotalDeals))
	sb.WriteString(fmt.Sprintf("| Accepted | %d |\n", s.Accepted))
	sb.WriteString(fmt.Sprintf("| Refused | %d |\n", s.Refused))
	sb.WriteString(fmt.Sprintf("| Abandoned | %d |\n", s.Abandoned))
	sb.WriteString(fmt.Sprintf("| Acceptance Rate | %.4f |\n", s.AcceptanceRate))
	sb.WriteString(fmt.Sprintf("| Items Bought | %d |\n", s.ItemsBought))
	sb.WriteString(fmt.Sprintf("| Value Bought | %d |\n", s.ValueBought))
	sb.WriteString(fmt.Sprintf("| Robux Paid | %d |\n", s.RobuxPaid))
	sb.WriteString(fmt.Sprintf("| Robux Net | %d |\n", s.RobuxNet))
	sb.WriteString("\n")

	// Methods
	sb.WriteString("## By Payment Method\n\n")
	if len(r.Methods) > 0 {
		sb.WriteString("| Method | Deals | Accepted | Refused | Abandoned | Robux Paid |\n")
		sb.WriteString("|--------|-------|----------|---------|-----------|------------|\n")
		for _, m := range r.Methods {
			sb.WriteString(fmt.Sprintf("| %s | %d | %d | %d | %d | %d |\n",
				m.Method, m.Deals, m.Accepted, m.Refused, m.Abandoned, m.RobuxPaid))
		}
	} else {
		sb.WriteString("No deals in range.\n")
	}
	sb.WriteString("\n")

	// Items
	sb.WriteString("## Items Bought\n\n")
	if len(r.Items) > 0 {
		sb.WriteString("| Item | Type | Condition | Quantity | Value |\n")
		sb.WriteString("|------|------|-----------|----------|-------|\n")
		for _, it := range r.Items {
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %d | %d |\n",
				escapeCell(it.Name), escapeCell(it.Type), it.Condition, it.Quantity, it.Value))
		}
	} else {
		sb.WriteString("No accepted deals in range.\n")
	}
	sb.WriteString("\n")

	// Ledger
	sb.WriteString("## Ledger\n\n")
	if len(r.Deals) > 0 {
		sb.WriteString("| Decided | Deal | Channel | Method | Outcome | Items | Robux | Reason |\n")
		sb.WriteString("|---------|------|---------|--------|---------|-------|-------|--------|\n")
		for _, d := range r.Deals {
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s | %d | %d | %s |\n",
				d.DecidedAt.Format(time.RFC3339), shortID(d.DealID), d.ChannelID,
				d.Method, d.Outcome, d.ItemCount, d.TotalRobux, escapeCell(d.Reason)))
		}
	} else {
		sb.WriteString("No deals in range.\n")
	}
	sb.WriteString("\n")

	return sb.String()
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}
