// Command chatdb is the schema-management tool for the chat core's
// Postgres store, the same shape as the teacher's standalone tinode-db
// command but rebuilt on cobra subcommands instead of a single flag set.
package main

import (
	"context"
	_ "embed"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/duoline/chatcore/internal/config"
)

//go:embed schema.sql
var schemaSQL string

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "chatdb",
		Short: "Schema management for the chat core's Postgres store",
		Long: `chatdb applies and resets the chat core's schema: users,
conversations, conversation_participants, messages, and message_reads,
as laid out in the persisted state layout (§6).`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to the JSON config file (optional; falls back to env vars)")

	rootCmd.AddCommand(migrateCmd(), resetCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create any missing tables and indexes (idempotent)",
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := openPool(context.Background())
			if err != nil {
				return err
			}
			defer pool.Close()

			if _, err := pool.Exec(context.Background(), schemaSQL); err != nil {
				return fmt.Errorf("chatdb migrate: %w", err)
			}
			fmt.Println("schema is up to date")
			return nil
		},
	}
}

func resetCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Drop every chat core table and recreate the schema from scratch",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("chatdb reset: refusing to drop tables without --yes")
			}
			pool, err := openPool(context.Background())
			if err != nil {
				return err
			}
			defer pool.Close()

			const dropAll = `
				DROP TABLE IF EXISTS message_reads CASCADE;
				DROP TABLE IF EXISTS messages CASCADE;
				DROP TABLE IF EXISTS conversation_participants CASCADE;
				DROP TABLE IF EXISTS conversations CASCADE;
				DROP TABLE IF EXISTS users CASCADE;`
			if _, err := pool.Exec(context.Background(), dropAll); err != nil {
				return fmt.Errorf("chatdb reset: drop: %w", err)
			}
			if _, err := pool.Exec(context.Background(), schemaSQL); err != nil {
				return fmt.Errorf("chatdb reset: recreate: %w", err)
			}
			fmt.Println("schema reset complete")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the destructive drop")
	return cmd
}

func openPool(ctx context.Context) (*pgxpool.Pool, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.New(ctx, cfg.DB.DSN())
	if err != nil {
		return nil, fmt.Errorf("chatdb: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("chatdb: ping: %w", err)
	}
	return pool, nil
}
