// Command quote prices a basket the way a selling ticket does and prints the
// view a seller would see. Each item is one argument (or one stdin line):
//
//	name[;type[;condition[;quantity]]]
//
// Example: quote "torpedo;;;2" "widget;rim;dupe"
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"trading-desk/internal/applog"
	"trading-desk/internal/catalog"
	"trading-desk/internal/domain"
	"trading-desk/internal/matcher"
	"trading-desk/internal/pricing"
	"trading-desk/internal/storage/memory"
	"trading-desk/internal/ticket"
)

const channelID = "quote"

func main() {
	catalogPath := flag.String("catalog", envOr("CATALOG_PATH", "data/items.json"), "Catalog JSON file")
	aliasesPath := flag.String("aliases", envOr("ALIASES_PATH", "data/aliases.yaml"), "Alias YAML file")
	deskPath := flag.String("desk", envOr("DESK_PATH", "data/desk.json"), "Desk JSON file")
	strict := flag.Bool("reject-ambiguous", false, "Fail on ambiguous names instead of picking by priority")
	logLevel := flag.String("log-level", "warn", "Log level")
	flag.Parse()

	ctx := context.Background()
	logger := applog.NewWithWriter(os.Stderr, *logLevel, false)

	index, err := catalog.Load(ctx, catalog.NewFileSource(*catalogPath))
	if err != nil {
		fatal("load catalog: %v", err)
	}
	aliases, err := catalog.LoadAliases(*aliasesPath)
	if err != nil {
		fatal("load aliases: %v", err)
	}
	desk, err := catalog.LoadDesk(*deskPath)
	if err != nil {
		fatal("load desk: %v", err)
	}

	svc := ticket.New(ticket.Options{
		Tickets:         memory.NewTicketStore(),
		Matcher:         matcher.New(index, aliases),
		Eligibility:     pricing.NewEligibility(desk.ObtainableSet()),
		Protected:       desk.ExceptionSet(),
		RejectAmbiguous: *strict,
		Logger:          logger,
	})

	if _, err := svc.Open(ctx, channelID, "cli"); err != nil {
		fatal("open: %v", err)
	}
	if _, err := svc.StartSelling(ctx, channelID, "cli"); err != nil {
		fatal("start selling: %v", err)
	}

	lines := flag.Args()
	if len(lines) == 0 {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			if line := strings.TrimSpace(sc.Text()); line != "" {
				lines = append(lines, line)
			}
		}
		if err := sc.Err(); err != nil {
			fatal("read stdin: %v", err)
		}
	}

	failed := 0
	for _, line := range lines {
		req := parseLine(line)
		if _, err := svc.AddItem(ctx, channelID, "cli", req); err != nil {
			failed++
			if ue, ok := domain.AsUserError(err); ok {
				fmt.Fprintf(os.Stderr, "%s: %s: %s\n", line, ue.Title, ue.Message)
				continue
			}
			fatal("%s: %v", line, err)
		}
	}

	view, err := svc.View(ctx, channelID)
	if err != nil {
		fatal("render: %v", err)
	}
	fmt.Printf("%s\n\n%s\n", view.Title, view.Text)
	if view.Quote != nil {
		fmt.Printf("\nRate: %d per million | Total: %s | After tax: %s\n",
			view.Quote.Rate, ticket.FormatNumber(view.Quote.TotalRobux), ticket.FormatNumber(view.Quote.AfterTax))
	}
	if failed > 0 {
		fmt.Fprintf(os.Stderr, "%d of %d items rejected\n", failed, len(lines))
		os.Exit(1)
	}
}

// parseLine splits "name;type;condition;quantity". Missing fields stay empty.
func parseLine(line string) ticket.ItemRequest {
	parts := strings.Split(line, ";")
	for len(parts) < 4 {
		parts = append(parts, "")
	}
	return ticket.ItemRequest{
		Name:      strings.TrimSpace(parts[0]),
		Type:      strings.TrimSpace(parts[1]),
		Condition: strings.TrimSpace(parts[2]),
		Quantity:  strings.TrimSpace(parts[3]),
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
