package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/LJTian/TopicDigest/internal/app"
	"github.com/LJTian/TopicDigest/internal/delivery"
	"github.com/LJTian/TopicDigest/internal/storage"
	"github.com/LJTian/TopicDigest/internal/subscription"
)

type cli struct {
	out      io.Writer
	build    func() (*app.App, error)
	app      *app.App
	jsonOut  bool
	deadline time.Duration
}

func newRootCmd(out io.Writer, build func() (*app.App, error)) *cobra.Command {
	c := &cli{out: out, build: build}

	root := &cobra.Command{
		Use:   "digestctl",
		Short: "TopicDigest admin CLI",
		Long: `digestctl operates a TopicDigest deployment directly against its database.

Example usage:
  digestctl tick                                   # send to every due subscription now
  digestctl collect --topic AI --limit 5           # fetch and store news for a topic
  digestctl status                                 # due state of active subscriptions
  digestctl subscribe --topic AI --email a@b.com   # create a subscription
  digestctl unsubscribe --id 3                     # deactivate a subscription
  digestctl list --all                             # list subscriptions`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.build()
			if err != nil {
				return err
			}
			c.app = a
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if c.app == nil {
				return nil
			}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := c.app.Engine.Wait(ctx); err != nil {
				return err
			}
			return c.app.Store.Close()
		},
	}
	root.PersistentFlags().BoolVar(&c.jsonOut, "json", false, "output as JSON")
	root.PersistentFlags().DurationVar(&c.deadline, "timeout", 10*time.Minute, "overall command timeout")

	root.AddCommand(
		c.tickCmd(),
		c.collectCmd(),
		c.statusCmd(),
		c.subscribeCmd(),
		c.unsubscribeCmd(),
		c.listCmd(),
	)
	return root
}

func (c *cli) ctx(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), c.deadline)
}

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *cli) tickCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Run one delivery pass over all due subscriptions",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.ctx(cmd)
			defer cancel()

			report, err := c.app.Engine.RunDue(ctx, delivery.KindManual)
			if err != nil {
				return err
			}
			if c.jsonOut {
				return c.printJSON(report)
			}
			fmt.Fprintf(c.out, "run %s: total=%d processed=%d sent=%d failed=%d skipped=%d\n",
				report.RunID, report.Total, report.Processed, report.Sent, report.Failed, report.Skipped)
			w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tEMAIL\tTOPIC\tOUTCOME\tITEMS\tERROR")
			for _, r := range report.Results {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%s\n", r.SubscriptionID, r.Email, r.Topic, r.Outcome, r.Items, r.Error)
			}
			return w.Flush()
		},
	}
}

func (c *cli) collectCmd() *cobra.Command {
	var (
		topic string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Fetch news for a topic and store new items",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.ctx(cmd)
			defer cancel()

			items := c.app.Fetcher.Collect(ctx, topic, limit)
			inserted, err := c.app.Fetcher.Persist(ctx, items)
			if err != nil {
				return err
			}
			if c.jsonOut {
				return c.printJSON(map[string]any{"topic": topic, "collected": len(items), "inserted": inserted, "items": items})
			}
			fmt.Fprintf(c.out, "topic %q: collected=%d inserted=%d\n", topic, len(items), inserted)
			for _, it := range items {
				fmt.Fprintf(c.out, "  - %s\n    %s\n", it.Title, it.URL)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&topic, "topic", "", "topic to collect (required)")
	cmd.Flags().IntVar(&limit, "limit", 10, "max items to fetch")
	_ = cmd.MarkFlagRequired("topic")
	return cmd
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show due state of active subscriptions",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.ctx(cmd)
			defer cancel()

			list, err := c.app.Engine.Status(ctx)
			if err != nil {
				return err
			}
			if c.jsonOut {
				return c.printJSON(list)
			}
			w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tEMAIL\tTOPIC\tFREQUENCY\tLAST SENT\tDUE\tNEXT DUE")
			for _, st := range list {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%t\t%s\n",
					st.Subscription.ID, st.Subscription.Email, st.Subscription.Topic, st.Subscription.Frequency,
					formatTime(st.Subscription.LastSent), st.Due, formatTime(st.NextDueAt))
			}
			return w.Flush()
		},
	}
}

func (c *cli) subscribeCmd() *cobra.Command {
	var (
		topic, email, frequency string
		noWelcome               bool
	)
	cmd := &cobra.Command{
		Use:   "subscribe",
		Short: "Create a subscription and send the welcome digest",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.ctx(cmd)
			defer cancel()

			sub, err := c.app.Registry.Create(ctx, topic, email, storage.Frequency(frequency))
			if err != nil {
				return err
			}
			var welcome *delivery.WelcomeResult
			if !noWelcome {
				w := c.app.Engine.Welcome(ctx, *sub)
				welcome = &w
			}
			if c.jsonOut {
				return c.printJSON(map[string]any{"subscription": sub, "welcome": welcome})
			}
			fmt.Fprintf(c.out, "subscription %d created: %s -> %s (%s)\n", sub.ID, sub.Topic, sub.Email, sub.Frequency)
			if welcome != nil {
				fmt.Fprintf(c.out, "welcome: %s (%d items)\n", welcome.Action, welcome.NewsCount)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&topic, "topic", "", "topic (required)")
	cmd.Flags().StringVar(&email, "email", "", "recipient email (required)")
	cmd.Flags().StringVar(&frequency, "frequency", string(storage.FrequencyDaily), "daily, weekly or monthly")
	cmd.Flags().BoolVar(&noWelcome, "no-welcome", false, "skip the welcome digest")
	_ = cmd.MarkFlagRequired("topic")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func (c *cli) unsubscribeCmd() *cobra.Command {
	var id uint
	cmd := &cobra.Command{
		Use:   "unsubscribe",
		Short: "Deactivate a subscription",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.ctx(cmd)
			defer cancel()

			if err := c.app.Registry.Deactivate(ctx, id); err != nil {
				return fmt.Errorf("subscription %d: %w", id, err)
			}
			if c.jsonOut {
				return c.printJSON(map[string]any{"id": id, "isActive": false})
			}
			fmt.Fprintf(c.out, "subscription %d deactivated\n", id)
			return nil
		},
	}
	cmd.Flags().UintVar(&id, "id", 0, "subscription id (required)")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func (c *cli) listCmd() *cobra.Command {
	var (
		email string
		all   bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List subscriptions",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.ctx(cmd)
			defer cancel()

			list, err := c.app.Registry.List(ctx, subscription.Filter{Email: email, ActiveOnly: !all})
			if err != nil {
				return err
			}
			if c.jsonOut {
				return c.printJSON(list)
			}
			w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tEMAIL\tTOPIC\tFREQUENCY\tACTIVE\tLAST SENT")
			for _, s := range list {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
					s.ID, s.Email, s.Topic, s.Frequency, strconv.FormatBool(s.IsActive), formatTime(s.LastSent))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "only subscriptions of this email")
	cmd.Flags().BoolVar(&all, "all", false, "include inactive subscriptions")
	return cmd
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
