package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func serversCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "servers",
		Short: "Inspect stored per-server settings",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List every configured server (webhook tokens are never shown)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := context.Background()
			db, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			servers, err := db.ListServers(ctx)
			if err != nil {
				return err
			}
			if len(servers) == 0 {
				fmt.Println("No servers configured yet. Run /setchannel in a Discord channel.")
				return nil
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SERVER\tCHANNEL\tENABLED\tNAME\tWEBHOOK\tPERSONALITY")
			for _, s := range servers {
				webhook := "-"
				if s.Webhook != nil {
					webhook = s.Webhook.ID
				}
				personality := "default"
				if s.Personality != "" {
					personality = "custom"
				}
				fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%s\t%s\n",
					s.ServerID, orDash(s.WatchedChannelID), s.Enabled, s.Name(), webhook, personality)
			}
			return tw.Flush()
		},
	})

	return cmd
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending store migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := context.Background()
			// Opening the store applies pending migrations.
			db, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			v, err := db.SchemaVersion(ctx)
			if err != nil {
				return err
			}
			logger.Info("store migrated", "driver", cfg.Store.Driver, "schema_version", v)
			return nil
		},
	}
}
