// Package main provides the kotoshop CLI entrypoint.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/joss/kotoshop/internal/config"
	"github.com/joss/kotoshop/internal/logging"
	"github.com/joss/kotoshop/internal/metrics"
	"github.com/joss/kotoshop/internal/render"
	"github.com/joss/kotoshop/internal/store"
)

var (
	version = "0.1.0"
	shop    *store.Store
	pretty  = true
	output  = render.FormatText
	stats   bool
	inShell bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var outputFlag string

	rootCmd := &cobra.Command{
		Use:   "kotoshop",
		Short: "Kotoshop storefront client",
		Long: `kotoshop: browse the catalog, manage the cart, check out and review
products against a kotoshop API.

The session, cart and last order survive between runs. Use 'kotoshop shell'
for a long-lived session with background refreshes.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			f, err := render.ParseFormat(outputFlag)
			if err != nil {
				return err
			}
			output = f
			if !inShell {
				logging.Configure(os.Stderr, logging.Level(config.Env().LogLevel))
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if shop == nil {
				return
			}
			shop.Wait()
			if stats {
				printStats()
			}
			if !inShell {
				_ = shop.Close()
				shop = nil
			}
		},
	}

	rootCmd.PersistentFlags().BoolVar(&pretty, "pretty", true, "Pretty print output")
	rootCmd.PersistentFlags().StringVarP(&outputFlag, "output", "o", "text", "Output format: text, json or yaml")
	rootCmd.PersistentFlags().BoolVar(&stats, "stats", false, "Print API request counters after the command")

	rootCmd.AddGroup(
		&cobra.Group{ID: "account", Title: "Account:"},
		&cobra.Group{ID: "shop", Title: "Shopping:"},
		&cobra.Group{ID: "session", Title: "Session:"},
	)

	for _, c := range []*cobra.Command{signupCmd(), loginCmd(), logoutCmd(), whoamiCmd(), profileCmd()} {
		c.GroupID = "account"
		rootCmd.AddCommand(c)
	}
	for _, c := range []*cobra.Command{productsCmd(), cartCmd(), checkoutCmd(), ordersCmd(), feedbackCmd()} {
		c.GroupID = "shop"
		rootCmd.AddCommand(c)
	}
	for _, c := range []*cobra.Command{shellCmd(), versionCmd()} {
		c.GroupID = "session"
		rootCmd.AddCommand(c)
	}
	return rootCmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("kotoshop %s (api %s)\n", version, config.Env().APIURL)
		},
	}
}

func printStats() {
	summary, err := metrics.Summary()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: read metrics: %v\n", err)
		return
	}
	fmt.Fprint(os.Stderr, render.New(pretty).Stats(summary, metrics.ForcedLogouts()))
}
