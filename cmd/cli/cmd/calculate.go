// Package cmd - calculate command
package cmd

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"bundle-pricing/core/engine"
	"bundle-pricing/core/output"
	"bundle-pricing/core/types"
	"bundle-pricing/core/ui"
	"bundle-pricing/internal/app"
	"bundle-pricing/internal/config"
	"bundle-pricing/internal/logging"
)

var (
	calcFacts         types.RequestFacts
	calcStrategy      string
	calcFormat        string
	calcStream        bool
	calcCorrelationID string
)

// calculateCmd represents the calculate command
var calculateCmd = &cobra.Command{
	Use:   "calculate",
	Short: "Price one bundle request",
	Long: `Run the pricing engine for one request and print the breakdown.

Strategies and the bundle catalog come from the sources in the config
file. With --stream a progress bar follows each rule as it is applied;
with --correlation-id the steps are also published so that subscribers
of a running server can follow them.

Examples:
  bundle-pricing calculate --country IL --days 7
  bundle-pricing calculate --country IL --country GR --days 10 --payment ISRAELI_CARD
  bundle-pricing calculate --region europe --days 30 --promo SUMMER --format markdown
  bundle-pricing calculate --country US --days 15 --strategy summer-sale --stream`,
	Args: cobra.NoArgs,
	RunE: runCalculate,
}

func init() {
	f := calculateCmd.Flags()
	f.StringVar(&calcFacts.BundleID, "bundle", "", "bundle id")
	f.IntVarP(&calcFacts.ValidityDays, "days", "d", 0, "validity days requested [REQUIRED]")
	f.StringSliceVarP(&calcFacts.Countries, "country", "c", nil, "ISO country code (repeatable)")
	f.StringVarP(&calcFacts.Region, "region", "r", "", "region code, e.g. europe")
	f.StringVarP(&calcFacts.PaymentMethod, "payment", "p", "", "payment method")
	f.StringVar(&calcFacts.Group, "group", "", "customer group")
	f.StringVar(&calcFacts.PromoCode, "promo", "", "promo code")
	f.StringVar(&calcFacts.UserID, "user", "", "user id")
	f.StringVar(&calcFacts.UserEmail, "email", "", "user email")
	f.IntVar(&calcFacts.UnusedDays, "unused-days", 0, "unused days carried over from a previous bundle")
	f.StringVarP(&calcStrategy, "strategy", "s", "", "strategy id (default strategy when empty)")
	f.StringVarP(&calcFormat, "format", "f", string(output.FormatCLI), "output format ("+strings.Join(output.Names(), ", ")+")")
	f.BoolVar(&calcStream, "stream", false, "show step progress while pricing")
	f.StringVar(&calcCorrelationID, "correlation-id", "", "publish steps under this correlation id")
	_ = calculateCmd.MarkFlagRequired("days")

	rootCmd.AddCommand(calculateCmd)
}

func runCalculate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	formatter, err := output.New(output.Format(calcFormat), noColor)
	if err != nil {
		return err
	}
	if calcFacts.BundleID == "" {
		calcFacts.BundleID = defaultBundleID(calcFacts)
	}

	a, err := app.Build(ctx, config.Get(), logging.Logger)
	if err != nil {
		return err
	}
	defer a.Close()

	opts := engine.RunOptions{StrategyID: calcStrategy}
	var sinks engine.MultiSink
	var bar *ui.ProgressBar

	if calcStream {
		bar = ui.NewWriter(cmd.ErrOrStderr(), noColor).NewProgressBar(0, "pricing")
		sinks = append(sinks, engine.SinkFunc(func(env types.StepEnvelope) {
			bar.Update(env.CompletedSteps, env.TotalSteps)
		}))
	}
	if calcCorrelationID != "" {
		sinks = append(sinks, a.StepSink())
		opts.CorrelationID = calcCorrelationID
	} else if calcStream {
		opts.CorrelationID = uuid.NewString()
	}
	if len(sinks) > 0 {
		opts.Sink = sinks
	}

	bd, err := a.Engine.Run(ctx, calcFacts, opts)
	if bar != nil {
		bar.Done()
	}
	if err != nil {
		return fmt.Errorf("calculation failed: %w", err)
	}
	return formatter.Render(cmd.OutOrStdout(), bd)
}

// defaultBundleID names ad-hoc requests after their coverage and validity
func defaultBundleID(facts types.RequestFacts) string {
	coverage := facts.Region
	if coverage == "" {
		coverage = strings.Join(facts.SortedCountries(), "-")
	}
	return fmt.Sprintf("%s-%dd", strings.ToLower(coverage), facts.ValidityDays)
}
