package reporting

import (
	"context"
	"fmt"
	"sort"
	"time"

	"trading-desk/internal/domain"
	"trading-desk/internal/storage"
)

// Generator produces reports from the deal ledger.
type Generator struct {
	deals storage.DealStore
	now   func() time.Time // Injectable clock for deterministic output
}

// NewGenerator creates a new report generator.
func NewGenerator(deals storage.DealStore) *Generator {
	return &Generator{
		deals: deals,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets a custom clock function for deterministic output.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Generate produces a report over deals decided within [start, end].
func (g *Generator) Generate(ctx context.Context, start, end time.Time) (*Report, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("invalid range: end %s before start %s", end.Format(time.RFC3339), start.Format(time.RFC3339))
	}

	deals, err := g.deals.GetByTimeRange(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("load deals: %w", err)
	}

	return &Report{
		GeneratedAt: g.now(),
		RangeStart:  start.UTC(),
		RangeEnd:    end.UTC(),
		Summary:     summarize(deals),
		Methods:     byMethod(deals),
		Items:       byItem(deals),
		Deals:       dealRows(deals),
	}, nil
}

func summarize(deals []*domain.Deal) Summary {
	var s Summary
	s.TotalDeals = len(deals)

	for _, d := range deals {
		switch d.Outcome {
		case domain.OutcomeAccepted:
			s.Accepted++
			s.ItemsBought += d.ItemCount
			s.ValueBought += d.TotalValue
			s.RobuxPaid += d.TotalRobux
			s.RobuxNet += d.AfterTax
		case domain.OutcomeRefused:
			s.Refused++
		case domain.OutcomeAbandoned:
			s.Abandoned++
		}
	}

	if decided := s.Accepted + s.Refused; decided > 0 {
		s.AcceptanceRate = float64(s.Accepted) / float64(decided)
	}
	return s
}

func byMethod(deals []*domain.Deal) []MethodRow {
	groups := make(map[domain.PaymentMethod]*MethodRow)

	for _, d := range deals {
		row := groups[d.Method]
		if row == nil {
			row = &MethodRow{Method: d.Method}
			groups[d.Method] = row
		}
		row.Deals++
		switch d.Outcome {
		case domain.OutcomeAccepted:
			row.Accepted++
			row.RobuxPaid += d.TotalRobux
		case domain.OutcomeRefused:
			row.Refused++
		case domain.OutcomeAbandoned:
			row.Abandoned++
		}
	}

	rows := make([]MethodRow, 0, len(groups))
	for _, row := range groups {
		rows = append(rows, *row)
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].Method < rows[j].Method
	})
	return rows
}

// byItem aggregates line items of accepted deals only.
func byItem(deals []*domain.Deal) []ItemRow {
	groups := make(map[domain.StackKey]*ItemRow)

	for _, d := range deals {
		if d.Outcome != domain.OutcomeAccepted {
			continue
		}
		for _, li := range d.Items {
			row := groups[li.Key()]
			if row == nil {
				row = &ItemRow{Name: li.Name, Type: li.Type, Condition: li.Condition}
				groups[li.Key()] = row
			}
			row.Quantity += li.Quantity
			row.Value += li.Value * int64(li.Quantity)
		}
	}

	rows := make([]ItemRow, 0, len(groups))
	for _, row := range groups {
		rows = append(rows, *row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Value != rows[j].Value {
			return rows[i].Value > rows[j].Value
		}
		if rows[i].Name != rows[j].Name {
			return rows[i].Name < rows[j].Name
		}
		if rows[i].Type != rows[j].Type {
			return rows[i].Type < rows[j].Type
		}
		return rows[i].Condition < rows[j].Condition
	})
	return rows
}

func dealRows(deals []*domain.Deal) []DealRow {
	rows := make([]DealRow, len(deals))
	for i, d := range deals {
		rows[i] = DealRow{
			DealID:     d.DealID,
			DecidedAt:  d.DecidedAt.UTC(),
			ChannelID:  d.ChannelID,
			AccountID:  d.AccountID,
			Method:     d.Method,
			Outcome:    d.Outcome,
			ItemCount:  d.ItemCount,
			TotalValue: d.TotalValue,
			Rate:       d.Rate,
			TotalRobux: d.TotalRobux,
			AfterTax:   d.AfterTax,
			DecidedBy:  d.DecidedBy,
			Reason:     d.Reason,
		}
	}

	// Stores already order by decided_at; keep the output stable regardless.
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].DecidedAt.Equal(rows[j].DecidedAt) {
			return rows[i].DecidedAt.Before(rows[j].DecidedAt)
		}
		return rows[i].DealID < rows[j].DealID
	})
	return rows
}
