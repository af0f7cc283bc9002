package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/shohag/chatrelay/internal/api"
	"github.com/shohag/chatrelay/internal/config"
	"github.com/shohag/chatrelay/internal/delivery"
	"github.com/shohag/chatrelay/internal/discord"
	"github.com/shohag/chatrelay/internal/logging"
	"github.com/shohag/chatrelay/internal/relay"
	"github.com/shohag/chatrelay/internal/storage"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "chatrelay",
		Short: "ChatRelay relays messages to Discord webhooks and reads channels through a bot",
	}

	var configPath string
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	rootCmd.AddCommand(serveCmd(&configPath))
	rootCmd.AddCommand(validateCmd(&configPath))
	rootCmd.AddCommand(attemptsCmd(&configPath))
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the ChatRelay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			log, logCloser := logging.New(cfg.Logging)
			defer logCloser.Close()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			store, err := setupRegistry(ctx, cfg.Registry, log)
			if err != nil {
				return fmt.Errorf("failed to setup registry: %w", err)
			}
			defer store.Close()

			journal, err := setupJournal(ctx, cfg.Journal, log)
			if err != nil {
				return fmt.Errorf("failed to setup journal: %w", err)
			}
			defer journal.Close()

			bot, err := discord.Open(ctx, cfg.Discord, log)
			if err != nil {
				log.Fatal().Err(err).Msg("failed to open discord bot session")
			}
			defer bot.Close()

			sender := delivery.NewSender(cfg.Relay.Timeout)
			svc := relay.NewService(relay.OptionsFromConfig(cfg), store, journal, sender, bot, log)

			server := api.NewServer(cfg, svc, log)
			go func() {
				if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal().Err(err).Msg("server error")
				}
			}()

			log.Info().
				Str("version", version).
				Int("port", cfg.Server.Port).
				Str("registry", cfg.Registry.Driver).
				Str("journal", cfg.Journal.Driver).
				Msg("ChatRelay is running")

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit

			log.Info().Msg("shutting down...")

			if err := server.Shutdown(10 * time.Second); err != nil {
				log.Error().Err(err).Msg("server shutdown error")
			}

			log.Info().Msg("ChatRelay stopped")
			return nil
		},
	}
}

func validateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <webhook-url>",
		Short: "Validate a webhook URL against Discord without registering it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			log, logCloser := logging.New(cfg.Logging)
			defer logCloser.Close()

			ctx := cmd.Context()
			journal, err := setupJournal(ctx, cfg.Journal, log)
			if err != nil {
				return fmt.Errorf("failed to setup journal: %w", err)
			}
			defer journal.Close()

			sender := delivery.NewSender(cfg.Validation.Timeout)
			svc := relay.NewService(relay.OptionsFromConfig(cfg), storage.NewMemory(), journal, sender, nil, log)

			ep, err := svc.Register(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), ep)
		},
	}
}

func attemptsCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "attempts <webhook-id>",
		Short: "Show recorded validation and send attempts for a webhook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if cfg.Journal.Driver == "none" {
				return fmt.Errorf("journal is disabled, set journal.driver to sqlite")
			}

			log, logCloser := logging.New(cfg.Logging)
			defer logCloser.Close()

			ctx := cmd.Context()
			journal, err := setupJournal(ctx, cfg.Journal, log)
			if err != nil {
				return fmt.Errorf("failed to setup journal: %w", err)
			}
			defer journal.Close()

			limit, _ := cmd.Flags().GetInt("limit")
			attempts, err := journal.ListAttempts(ctx, args[0], limit)
			if err != nil {
				return fmt.Errorf("failed to list attempts: %w", err)
			}

			if len(attempts) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No attempts found.")
				return nil
			}
			return printJSON(cmd.OutOrStdout(), attempts)
		},
	}
	cmd.Flags().Int("limit", 50, "maximum number of attempts to show")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("ChatRelay v%s\n", version)
		},
	}
}

func setupRegistry(ctx context.Context, cfg config.RegistryConfig, log zerolog.Logger) (storage.EndpointStore, error) {
	switch cfg.Driver {
	case "memory":
		log.Info().Msg("using in-memory webhook registry")
		return storage.NewMemory(), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Redis.Addr, err)
		}
		log.Info().Str("addr", cfg.Redis.Addr).Msg("using Redis webhook registry")
		return storage.NewRedis(client, cfg.Redis.Prefix), nil
	default:
		return nil, fmt.Errorf("unsupported registry driver: %s", cfg.Driver)
	}
}

func setupJournal(ctx context.Context, cfg config.JournalConfig, log zerolog.Logger) (storage.Journal, error) {
	switch cfg.Driver {
	case "none":
		return storage.NopJournal{}, nil
	case "sqlite":
		log.Info().Str("path", cfg.SQLite.Path).Msg("using SQLite attempt journal")
		j, err := storage.NewSQLite(cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		if err := j.Migrate(ctx); err != nil {
			j.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		return j, nil
	default:
		return nil, fmt.Errorf("unsupported journal driver: %s", cfg.Driver)
	}
}

func printJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}
