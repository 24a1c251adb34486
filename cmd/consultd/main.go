package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var version = "dev"

var (
	rootCmd = &cobra.Command{
		Use:           "consultd",
		Short:         "Consultation service with the support mailbox reply listener",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, mailbox listener and notification sweep",
		RunE:  runServe,
	}

	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE:  runMigrate,
	}

	sweepCmd = &cobra.Command{
		Use:   "sweep",
		Short: "Resend pending response notifications once and exit",
		RunE:  runSweep,
	}

	tokenCmd = &cobra.Command{
		Use:   "token <user-id>",
		Short: "Sign a short-lived bearer token for smoke tests",
		Args:  cobra.ExactArgs(1),
		RunE:  runToken,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the consultd version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	noMailbox  bool
	tokenAdmin bool
)

func main() {
	serveCmd.Flags().BoolVar(&noMailbox, "no-mailbox", false, "do not start the mailbox listener")
	rootCmd.Flags().AddFlagSet(serveCmd.Flags())
	tokenCmd.Flags().BoolVar(&tokenAdmin, "admin", false, "sign an ADMIN subject instead of USER")
	rootCmd.AddCommand(serveCmd, migrateCmd, sweepCmd, tokenCmd, versionCmd)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		log.Fatalf("consultd: %v", err)
	}
}
