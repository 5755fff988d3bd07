// Package output provides breakdown formatting.
// This package produces human and machine-readable outputs.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"bundle-pricing/core/types"
	"bundle-pricing/core/ui"
)

// Format represents output format type
type Format string

const (
	// FormatCLI is a human-readable CLI table
	FormatCLI Format = "cli"

	// FormatJSON is machine-readable JSON
	FormatJSON Format = "json"

	// FormatMarkdown is a markdown report
	FormatMarkdown Format = "markdown"
)

// Formatter produces output in a specific format
type Formatter interface {
	// Format returns the format type
	Format() Format

	// Render produces output for the given breakdown
	Render(w io.Writer, bd *types.PricingBreakdown) error
}

// New returns the formatter for format. noColor only affects FormatCLI.
func New(format Format, noColor bool) (Formatter, error) {
	switch Format(strings.ToLower(string(format))) {
	case FormatCLI, "":
		return cliFormatter{noColor: noColor}, nil
	case FormatJSON:
		return jsonFormatter{}, nil
	case FormatMarkdown:
		return markdownFormatter{}, nil
	}
	return nil, fmt.Errorf("unknown output format %q (want %s)", format, strings.Join(Names(), ", "))
}

// Names lists the supported formats
func Names() []string {
	names := []string{string(FormatCLI), string(FormatJSON), string(FormatMarkdown)}
	sort.Strings(names)
	return names
}

type jsonFormatter struct{}

func (jsonFormatter) Format() Format { return FormatJSON }

func (jsonFormatter) Render(w io.Writer, bd *types.PricingBreakdown) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(bd)
}

type cliFormatter struct {
	noColor bool
}

func (cliFormatter) Format() Format { return FormatCLI }

func (f cliFormatter) Render(w io.Writer, bd *types.PricingBreakdown) error {
	out := ui.NewWriter(w, f.noColor)

	out.Header(fmt.Sprintf("%s (%s, %d days)", bd.BundleName, strings.Join(bd.Countries, ","), bd.ValidityDays))

	table := out.NewTable("#", "STEP", "RULE", "BEFORE", "AFTER", "IMPACT")
	for _, step := range bd.PricingSteps {
		table.AddRow(
			fmt.Sprintf("%d", step.Order),
			step.Name,
			step.RuleID,
			step.PriceBefore.StringFixed(2),
			step.PriceAfter.StringFixed(2),
			signed(step.Impact.StringFixed(2)),
		)
	}
	table.Render()

	if len(bd.SkippedRules) > 0 {
		out.Println("")
		for _, s := range bd.SkippedRules {
			if s.Error != "" {
				out.Warning("%s skipped (%s): %s", s.RuleID, s.Reason, s.Error)
				continue
			}
			out.Debug("%s skipped (%s)", s.RuleID, s.Reason)
		}
	}

	summary := out.NewPriceSummary()
	summary.FinalPrice = bd.FinalPrice.StringFixed(2)
	summary.Cost = bd.Cost.StringFixed(2)
	summary.NetProfit = bd.NetProfit.StringFixed(2)
	summary.Currency = string(bd.Currency)
	summary.Strategy = fmt.Sprintf("%s v%d", bd.StrategyID, bd.StrategyVersion)
	summary.Applied = len(bd.AppliedRules)
	summary.Skipped = len(bd.SkippedRules)
	summary.Constrained = bd.ConstraintBinding
	summary.LossWarning = bd.NetProfit.IsNegative()
	summary.Render()
	return nil
}

type markdownFormatter struct{}

func (markdownFormatter) Format() Format { return FormatMarkdown }

func (markdownFormatter) Render(w io.Writer, bd *types.PricingBreakdown) error {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n\n", bd.BundleName)
	fmt.Fprintf(&b, "| | |\n|---|---|\n")
	fmt.Fprintf(&b, "| Final price | **%s %s** |\n", bd.FinalPrice.StringFixed(2), bd.Currency)
	fmt.Fprintf(&b, "| Cost | %s |\n", bd.Cost.StringFixed(2))
	fmt.Fprintf(&b, "| Net profit | %s |\n", bd.NetProfit.StringFixed(2))
	fmt.Fprintf(&b, "| Strategy | `%s` v%d |\n\n", bd.StrategyID, bd.StrategyVersion)

	if len(bd.PricingSteps) > 0 {
		b.WriteString("| # | Step | Before | After | Impact |\n|---|---|---:|---:|---:|\n")
		for _, step := range bd.PricingSteps {
			fmt.Fprintf(&b, "| %d | %s | %s | %s | %s |\n",
				step.Order, step.Name,
				step.PriceBefore.StringFixed(2), step.PriceAfter.StringFixed(2), signed(step.Impact.StringFixed(2)))
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// signed prefixes non-negative amounts with a plus sign
func signed(amount string) string {
	if strings.HasPrefix(amount, "-") {
		return amount
	}
	return "+" + amount
}
