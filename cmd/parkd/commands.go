package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/iliyamo/smart-parking/internal/archive"
	"github.com/iliyamo/smart-parking/internal/database"
	"github.com/iliyamo/smart-parking/internal/notify"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the reservation ledger schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, dialect, err := database.Open(cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := database.Migrate(cmd.Context(), db, dialect); err != nil {
			return err
		}
		logger.Info().Str("dialect", string(dialect)).Msg("ledger schema up to date")
		return nil
	},
}

var notifierCmd = &cobra.Command{
	Use:   "notifier",
	Short: "Consume queued notices and send confirmation emails",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.RabbitMQURL == "" {
			return fmt.Errorf("RABBITMQ_URL is required for the notifier")
		}
		mailer := smtpMailer()
		if !mailer.Enabled() {
			return fmt.Errorf("SMTP_HOST is required for the notifier")
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		c := &notify.Consumer{URL: cfg.RabbitMQURL, Queue: cfg.NotifyQueue, Mailer: mailer, Log: logger}
		err := c.Run(ctx)
		if ctx.Err() != nil {
			logger.Info().Msg("notifier stopped")
			return nil
		}
		return err
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Realign the state channel with the ledger once and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		actions, err := a.engine(nil).Reconcile(cmd.Context())
		for _, act := range actions {
			fmt.Fprintf(cmd.OutOrStdout(), "slot %d: %s -> %s (%s)\n", act.Slot, act.From, act.To, act.Reason)
		}
		if len(actions) == 0 && err == nil {
			fmt.Fprintln(cmd.OutOrStdout(), "nothing to reconcile")
		}
		return err
	},
}

var (
	reservationsJSON  bool
	reservationsJSONL bool
)

var reservationsCmd = &cobra.Command{
	Use:   "reservations",
	Short: "Print the reservation ledger, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		db, ledger, err := openLedger(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		out := cmd.OutOrStdout()
		if reservationsJSONL {
			return archive.ExportJSONL(ctx, ledger, out)
		}
		all, err := ledger.ListAll(ctx)
		if err != nil {
			return err
		}
		if reservationsJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(all)
		}
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSLOT\tNAME\tEMAIL\tSTATUS\tRESERVED AT")
		for _, r := range all {
			fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\t%s\n", r.ID, r.Slot, r.Name, r.Email, r.Status, r.CreatedAt.Format(time.RFC3339))
		}
		return w.Flush()
	},
}

func init() {
	reservationsCmd.Flags().BoolVar(&reservationsJSON, "json", false, "output as JSON")
	reservationsCmd.Flags().BoolVar(&reservationsJSONL, "jsonl", false, "output as a JSONL export with header")
}
