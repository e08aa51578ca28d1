// opsctl is the operator tool for the identity service: it runs drift
// diagnostics and repairs out-of-band, alongside live traffic.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	accountrepo "github.com/scoutbase/service-identity-go/internal/account/repo"
	"github.com/scoutbase/service-identity-go/internal/identity"
	"github.com/scoutbase/service-identity-go/internal/identity/gotrue"
	"github.com/scoutbase/service-identity-go/internal/identity/local"
	profilerepo "github.com/scoutbase/service-identity-go/internal/profile/repo"
	"github.com/scoutbase/service-identity-go/internal/reconcile"
	"github.com/scoutbase/service-identity-go/pkg/database"
	"github.com/scoutbase/service-identity-go/pkg/utilities"
)

type rootOptions struct {
	Format string // "json" | "text"
}

type deps struct {
	db       *sqlx.DB
	accounts *accountrepo.AccountRepo
	profiles *profilerepo.ProfileRepo
	provider identity.Provider
	sugar    *zap.SugaredLogger
}

func buildDeps() (*deps, error) {
	_ = godotenv.Load()
	lg, err := utilities.Init(utilities.ConfigFromEnv())
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	sugar := lg.Sugar()

	sqlDB, err := database.Connect(database.ConfigFromEnv())
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	sqlxDB := sqlx.NewDb(sqlDB, "postgres")

	var provider identity.Provider
	if os.Getenv("IDENTITY_PROVIDER") == "local" {
		provider = local.New()
	} else {
		provider = gotrue.New(gotrue.ConfigFromEnv(), sugar)
	}

	return &deps{
		db:       sqlxDB,
		accounts: accountrepo.NewAccountRepo(sqlxDB),
		profiles: profilerepo.NewProfileRepo(sqlxDB),
		provider: provider,
		sugar:    sugar,
	}, nil
}

func newDiagnoseCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "diagnose",
		Short: "Scan both stores and report every inconsistency",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := buildDeps()
			if err != nil {
				return err
			}
			defer d.db.Close()

			scanner := reconcile.NewScanner(d.provider, d.accounts, d.sugar)
			report, err := scanner.Scan(cmd.Context())
			if err != nil {
				return err
			}
			if opts.Format == "json" {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "run %s: %d identity records, %d accounts, %d issues (ok=%v)\n",
				report.RunID, report.Stats.IdentityRecords, report.Stats.Accounts, len(report.Issues), report.OK)
			for _, issue := range report.Issues {
				fixable := ""
				if issue.Fixable {
					fixable = " [fixable]"
				}
				fmt.Fprintf(out, "  %-8s %-26s %s%s\n", issue.Severity, issue.Kind, issue.Message, fixable)
			}
			return nil
		},
	}
}

func newRepairCommand(opts *rootOptions) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Auto-fix the fixable issues found by a fresh scan",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := buildDeps()
			if err != nil {
				return err
			}
			defer d.db.Close()

			scanner := reconcile.NewScanner(d.provider, d.accounts, d.sugar)
			report, err := scanner.Scan(cmd.Context())
			if err != nil {
				return err
			}
			if dryRun {
				fmt.Fprintf(cmd.OutOrStdout(), "dry run: %d issues, %d fixable\n", len(report.Issues), countFixable(report.Issues))
				return nil
			}
			repairer := reconcile.NewRepairer(d.accounts, d.sugar)
			outcomes := repairer.Apply(cmd.Context(), report.Issues)
			if opts.Format == "json" {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(outcomes)
			}
			for _, o := range outcomes {
				fmt.Fprintln(cmd.OutOrStdout(), o.String())
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "scan and count fixable issues without writing")
	return cmd
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the accounts and business_profiles tables if missing",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := buildDeps()
			if err != nil {
				return err
			}
			defer d.db.Close()

			if err := d.accounts.EnsureTable(cmd.Context()); err != nil {
				return fmt.Errorf("accounts: %w", err)
			}
			if err := d.profiles.EnsureTable(cmd.Context()); err != nil {
				return fmt.Errorf("business_profiles: %w", err)
			}
			for _, table := range []string{"accounts", "business_profiles"} {
				ok, err := d.accounts.TableExists(cmd.Context(), table)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: exists=%v\n", table, ok)
			}
			return nil
		},
	}
}

func countFixable(issues []reconcile.Issue) int {
	n := 0
	for _, i := range issues {
		if i.Fixable {
			n++
		}
	}
	return n
}

func main() {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "opsctl",
		Short:         "Operator tool for identity reconciliation",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	root.AddCommand(newDiagnoseCommand(opts))
	root.AddCommand(newRepairCommand(opts))
	root.AddCommand(newMigrateCommand())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
