// Package cmd - strategy and catalog management commands
package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"bundle-pricing/adapters/hclfile"
	"bundle-pricing/adapters/webhook"
	"bundle-pricing/core/determinism"
	"bundle-pricing/core/types"
	"bundle-pricing/core/ui"
	"bundle-pricing/db"
	"bundle-pricing/internal/config"
	"bundle-pricing/internal/logging"
)

var strategyCmd = &cobra.Command{
	Use:   "strategy",
	Short: "Validate and publish pricing strategies",
}

var strategyValidateCmd = &cobra.Command{
	Use:   "validate <path>",
	Short: "Check strategy files without running them",
	Long: `Parse and compile every strategy in an HCL file or directory.

Reports unknown operators, malformed actions, duplicate ids and more than
one default strategy. Nothing is written.`,
	Args: cobra.ExactArgs(1),
	RunE: runStrategyValidate,
}

var strategyPushCmd = &cobra.Command{
	Use:   "push <path>",
	Short: "Store strategy files in the database",
	Long: `Validate strategies from HCL and save them to Postgres, replacing
earlier versions with the same id. Run "bundle-pricing db migrate" first
on an empty database.`,
	Args: cobra.ExactArgs(1),
	RunE: runStrategyPush,
}

var strategyNotifyCmd = &cobra.Command{
	Use:   "notify <url>",
	Short: "Tell a running server that pricing rules changed",
	Long: `Send a signed rule-change webhook. With --category the server drops
only results the category can affect (narrowed by --entity); without it
the server reloads strategies and drops every cached result.`,
	Args: cobra.ExactArgs(1),
	RunE: runStrategyNotify,
}

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Inspect and publish the bundle catalog",
}

var catalogShowCmd = &cobra.Command{
	Use:   "show [path]",
	Short: "List catalog bundles",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCatalogShow,
}

var catalogPushCmd = &cobra.Command{
	Use:   "push <path>",
	Short: "Store catalog files in the database",
	Args:  cobra.ExactArgs(1),
	RunE:  runCatalogPush,
}

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Database administration",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the strategy and catalog tables",
	Args:  cobra.NoArgs,
	RunE:  runMigrate,
}

var (
	dsnFlag string

	notifyURL      string
	notifySecret   string
	notifyCategory string
	notifyEntities []string
)

func init() {
	rootCmd.AddCommand(strategyCmd)
	strategyCmd.AddCommand(strategyValidateCmd)
	strategyCmd.AddCommand(strategyPushCmd)
	strategyCmd.AddCommand(strategyNotifyCmd)

	rootCmd.AddCommand(catalogCmd)
	catalogCmd.AddCommand(catalogShowCmd)
	catalogCmd.AddCommand(catalogPushCmd)

	rootCmd.AddCommand(dbCmd)
	dbCmd.AddCommand(dbMigrateCmd)

	for _, c := range []*cobra.Command{strategyPushCmd, catalogPushCmd, dbMigrateCmd} {
		c.Flags().StringVar(&dsnFlag, "dsn", "", "Postgres DSN (default from config or "+config.EnvDatabaseDSN+")")
	}

	strategyPushCmd.Flags().StringVar(&notifyURL, "notify", "", "rule-change webhook URL to call after saving")
	for _, c := range []*cobra.Command{strategyPushCmd, strategyNotifyCmd} {
		c.Flags().StringVar(&notifySecret, "secret", "", "webhook signing secret (default from config or "+config.EnvWebhookSecret+")")
	}
	strategyNotifyCmd.Flags().StringVar(&notifyCategory, "category", "", "changed rule category, e.g. PROCESSING_FEE")
	strategyNotifyCmd.Flags().StringSliceVar(&notifyEntities, "entity", nil, "affected entity (repeatable)")
}

func runStrategyValidate(cmd *cobra.Command, args []string) error {
	w := ui.NewWriter(cmd.OutOrStdout(), noColor)

	defs, err := hclfile.LoadStrategies(args[0])
	if err != nil {
		w.Error("%v", err)
		return err
	}
	byID, fallback, err := hclfile.Compile(defs)
	if err != nil {
		w.Error("%v", err)
		return err
	}

	digests := make(map[string]string, len(defs))
	for _, def := range defs {
		h, err := determinism.HashJSON(def)
		if err != nil {
			return err
		}
		digests[def.ID] = h.Short()
	}

	table := w.NewTable("ID", "NAME", "VERSION", "BLOCKS", "DEFAULT", "DIGEST")
	for _, id := range determinism.SortedKeys(byID) {
		s := byID[id]
		isDefault := ""
		if fallback != nil && fallback.ID == id {
			isDefault = "yes"
		}
		table.AddRow(s.ID, s.Name, strconv.Itoa(s.Version), strconv.Itoa(len(s.Blocks)), isDefault, digests[id])
	}
	table.Render()

	w.Println("")
	if fallback == nil {
		w.Warning("no default strategy; requests must name a strategy id")
	}
	w.Success("%d strategies valid", len(byID))
	return nil
}

func runStrategyPush(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	w := ui.NewWriter(cmd.OutOrStdout(), noColor)

	defs, err := hclfile.LoadStrategies(args[0])
	if err != nil {
		return err
	}
	if _, _, err := hclfile.Compile(defs); err != nil {
		return err
	}

	repo, closeDB, err := openRepository(cmd, config.Get().Strategy.DSN)
	if err != nil {
		return err
	}
	defer closeDB()

	for _, def := range defs {
		if err := repo.SaveStrategy(ctx, def); err != nil {
			return err
		}
		w.Success("saved %s (%d blocks)", def.ID, len(def.Blocks))
	}

	if notifyURL == "" {
		return nil
	}
	sender := newNotifier(notifyURL)
	for _, def := range defs {
		if err := sender.Send(ctx, &webhook.Event{Type: webhook.EventStrategyUpdated, StrategyID: def.ID}); err != nil {
			return err
		}
	}
	w.Info("notified %s", notifyURL)
	return nil
}

func runStrategyNotify(cmd *cobra.Command, args []string) error {
	ev := &webhook.Event{Type: webhook.EventStrategyUpdated}
	if notifyCategory != "" {
		ev.Type = webhook.EventRuleChanged
		ev.Category = types.Category(strings.ToUpper(notifyCategory))
		ev.Entities = notifyEntities
	}
	if err := newNotifier(args[0]).Send(cmd.Context(), ev); err != nil {
		return err
	}
	ui.NewWriter(cmd.OutOrStdout(), noColor).Success("sent %s to %s", ev.Type, args[0])
	return nil
}

func newNotifier(url string) *webhook.Sender {
	secret := notifySecret
	if secret == "" {
		secret = config.Get().Server.WebhookSecret
	}
	return webhook.NewSender(webhook.DefaultConfig(url, secret))
}

func runCatalogShow(cmd *cobra.Command, args []string) error {
	path := config.Get().Catalog.Path
	if len(args) > 0 {
		path = args[0]
	}
	catalog, err := hclfile.LoadCatalog(path)
	if err != nil {
		return err
	}

	w := ui.NewWriter(cmd.OutOrStdout(), noColor)
	table := w.NewTable("CODE", "DAYS", "COST", "NAME", "PROVIDER")
	determinism.RangeMapSorted(catalog.Bundles(), func(code string, list []types.BundleInfo) bool {
		for _, b := range list {
			table.AddRow(code, strconv.Itoa(b.ValidityDays), b.BaseCost.StringFixed(2), b.BundleName, b.Provider)
		}
		return true
	})
	table.Render()
	return nil
}

func runCatalogPush(cmd *cobra.Command, args []string) error {
	catalog, err := hclfile.LoadCatalog(args[0])
	if err != nil {
		return err
	}

	repo, closeDB, err := openRepository(cmd, config.Get().Catalog.DSN)
	if err != nil {
		return err
	}
	defer closeDB()

	n, err := repo.SaveBundles(cmd.Context(), catalog.Bundles())
	if err != nil {
		return err
	}
	ui.NewWriter(cmd.OutOrStdout(), noColor).Success("saved %d bundles", n)
	return nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	repo, closeDB, err := openRepository(cmd, config.Get().Strategy.DSN)
	if err != nil {
		return err
	}
	defer closeDB()

	if err := repo.Migrate(cmd.Context()); err != nil {
		return err
	}
	ui.NewWriter(cmd.OutOrStdout(), noColor).Success("database schema is up to date")
	return nil
}

// openRepository connects with --dsn, falling back to configured
func openRepository(cmd *cobra.Command, configured string) (*db.Repository, func(), error) {
	dsn := dsnFlag
	if dsn == "" {
		dsn = configured
	}
	if dsn == "" {
		return nil, nil, fmt.Errorf("no database configured: pass --dsn or set %s", config.EnvDatabaseDSN)
	}

	gdb, err := db.Open(cmd.Context(), dsn, db.PoolConfig{})
	if err != nil {
		return nil, nil, err
	}
	closeDB := func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	return db.NewRepository(gdb, logging.Logger), closeDB, nil
}
