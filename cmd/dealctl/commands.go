package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/go-telegram/bot"
	"github.com/spf13/cobra"
	dealhunter "github.com/set-night/dealhunter"
	"github.com/set-night/dealhunter/internal/app"
	"github.com/set-night/dealhunter/internal/domain"
	"github.com/set-night/dealhunter/internal/repository"
	"github.com/set-night/dealhunter/internal/service"
	"github.com/set-night/dealhunter/internal/telegram"
)

type opener func(ctx context.Context) (*app.App, error)

func newRootCmd(open opener) *cobra.Command {
	root := &cobra.Command{
		Use:           "dealctl",
		Short:         "Deal pipeline maintenance tool",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newIngestCmd(open),
		newDistributeCmd(open),
		newTopCmd(open),
		newGrantCmd(open),
		newSubscriptionsCmd(open),
		newMigrateCmd(open),
	)
	return root
}

// withApp opens the app for the duration of one command.
func withApp(cmd *cobra.Command, open opener, fn func(a *app.App) error) error {
	a, err := open(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func newIngestCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "Fetch, score and store listings from every configured source",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, open, func(a *app.App) error {
				report, err := a.Ingest(cmd.Context())
				if err != nil {
					return err
				}
				printIngest(cmd.OutOrStdout(), report)
				return nil
			})
		},
	}
}

func printIngest(w io.Writer, r *domain.IngestReport) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tFETCHED\tSAVED\tDROPPED\tERROR")
	for _, s := range r.Sources {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\n", s.Source, s.Fetched, s.Saved, s.Dropped, s.Error)
	}
	tw.Flush()
	fmt.Fprintf(w, "batch %s: %d listings saved, %d records rejected\n", r.BatchID, r.Saved(), len(r.Failures))
}

func newDistributeCmd(open opener) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "distribute",
		Short: "Post the next batch of listings to the channel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, open, func(a *app.App) error {
				out := cmd.OutOrStdout()
				if dryRun {
					picked, err := a.Catalog.Candidates(cmd.Context(), a.Cfg.BatchSize)
					if err != nil {
						return err
					}
					printListings(out, picked)
					return nil
				}

				if a.Cfg.BotToken == "" {
					return errors.New("BOT_TOKEN is required to post; use --dry-run to preview")
				}
				b, err := bot.New(a.Cfg.BotToken)
				if err != nil {
					return fmt.Errorf("create bot: %w", err)
				}
				report, err := a.Distribute(cmd.Context(), telegram.ChannelSink(b, a.Cfg.ChannelID))
				if err != nil {
					return err
				}
				printDistribution(out, report)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the listings that would be posted")
	return cmd
}

func printDistribution(w io.Writer, r *domain.DistributionReport) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "LISTING\tSTATUS\tERROR")
	for _, it := range r.Items {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", it.ListingID, it.Status, it.Error)
	}
	tw.Flush()
	fmt.Fprintf(w, "delivered %d, failed %d, pending %d\n", r.Delivered(), r.Failed(), r.Pending())
}

func newTopCmd(open opener) *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "top",
		Short: "Show the best stored listings, ignoring cool-down",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, open, func(a *app.App) error {
				listings, err := a.Catalog.Top(cmd.Context(), n)
				if err != nil {
					return err
				}
				printListings(cmd.OutOrStdout(), listings)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&n, "limit", "n", 10, "number of listings")
	return cmd
}

func printListings(w io.Writer, listings []domain.Listing) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSCORE\tDISCOUNT\tPRICE\tNAME\tREASONS")
	for _, l := range listings {
		fmt.Fprintf(tw, "%s\t%d\t%d%%\t%s\t%s\t%s\n",
			l.ID, l.ValueScore, l.DiscountPercent, service.FormatPrice(l.Price), l.Name, strings.Join(l.ValueReasons, "; "))
	}
	tw.Flush()
}

func newGrantCmd(open opener) *cobra.Command {
	var method string
	cmd := &cobra.Command{
		Use:   "grant <user-id> <days|duration>",
		Short: "Grant or extend a premium subscription",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := parseGrantDuration(args[1])
			if err != nil {
				return err
			}
			pm, err := domain.ParsePaymentMethod(method)
			if err != nil {
				return err
			}
			return withApp(cmd, open, func(a *app.App) error {
				sub, err := a.Ledger.Grant(cmd.Context(), service.GrantRequest{UserID: args[0], Duration: d, Method: pm})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: premium until %s (%s, policy %s)\n",
					sub.UserID, sub.ExpiresAt.Format(time.RFC3339), sub.PaymentMethod, a.Ledger.Policy())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&method, "method", string(domain.PaymentManual), "payment method: crypto, card or manual")
	return cmd
}

// parseGrantDuration accepts a whole number of days or a Go duration.
func parseGrantDuration(s string) (time.Duration, error) {
	if days, err := strconv.Atoi(s); err == nil {
		if days <= 0 {
			return 0, domain.ErrInvalidDuration
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", domain.ErrInvalidDuration, s)
	}
	return d, nil
}

func newSubscriptionsCmd(open opener) *cobra.Command {
	var activeOnly bool
	cmd := &cobra.Command{
		Use:   "subscriptions",
		Short: "List the subscription ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, open, func(a *app.App) error {
				subs, err := a.Ledger.List(cmd.Context())
				if err != nil {
					return err
				}
				now := time.Now()
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "USER\tACTIVE\tEXPIRES\tMETHOD\tUSERNAME")
				for _, s := range subs {
					active := s.IsActiveAt(now)
					if activeOnly && !active {
						continue
					}
					expires := "-"
					if !s.IsStale() {
						expires = s.ExpiresAt.Format(time.RFC3339)
					}
					fmt.Fprintf(tw, "%s\t%t\t%s\t%s\t%s\n", s.UserID, active, expires, s.PaymentMethod, s.Username)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&activeOnly, "active", false, "only show active subscriptions")
	return cmd
}

func newMigrateCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations (postgres store only)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, open, func(a *app.App) error {
				if a.Cfg.StoreDriver != repository.DriverPostgres {
					fmt.Fprintf(cmd.OutOrStdout(), "store driver %q needs no migrations\n", a.Cfg.StoreDriver)
					return nil
				}
				return repository.RunMigrations(a.Cfg.DatabaseURL, dealhunter.MigrationsFS, a.Logger)
			})
		},
	}
}
