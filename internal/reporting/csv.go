package reporting

import (
	"encoding/csv"
	"strconv"
	"strings"
	"time"
)

// RenderCSV renders ledger rows as CSV string.
func RenderCSV(rows []DealRow) string {
	var sb strings.Builder
	w := csv.NewWriter(&sb)

	_ = w.Write([]string{
		"deal_id", "decided_at", "channel_id", "account_id", "method", "outcome",
		"item_count", "total_value", "rate", "total_robux", "after_tax", "decided_by", "reason",
	})

	for _, r := range rows {
		_ = w.Write([]string{
			r.DealID,
			r.DecidedAt.Format(time.RFC3339),
			r.ChannelID,
			strconv.FormatInt(r.AccountID, 10),
			string(r.Method),
			string(r.Outcome),
			strconv.Itoa(r.ItemCount),
			strconv.FormatInt(r.TotalValue, 10),
			strconv.Itoa(r.Rate),
			strconv.FormatInt(r.TotalRobux, 10),
			strconv.FormatInt(r.AfterTax, 10),
			r.DecidedBy,
			r.Reason,
		})
	}

	w.Flush()
	return sb.String()
}
