package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"Nara-Wallet/internal/config"
	"Nara-Wallet/internal/events"
	"Nara-Wallet/internal/identity"
	"Nara-Wallet/pkg/logger"
)

var configPath string

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "narad",
		Short:        "Conversational crypto wallet daemon",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "path to the JSON config file")

	principal := &cobra.Command{Use: "principal", Short: "Principal text utilities"}
	principal.AddCommand(principalDecodeCmd())

	ident := &cobra.Command{Use: "identity", Short: "Identity utilities"}
	ident.AddCommand(identityNewCmd())

	eventsCmd := &cobra.Command{Use: "events", Short: "Settlement event queue utilities"}
	eventsCmd.AddCommand(eventsTailCmd())

	root.AddCommand(serveCmd(), principal, ident, eventsCmd)
	return root
}

func defaultConfigPath() string {
	if path := os.Getenv("NARA_CONFIG"); path != "" {
		return path
	}
	return filepath.Join("configs", "nara.json")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Rotation: logger.RotationConfig{
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAgeDays: cfg.Logging.MaxAgeDays,
		},
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
		},
	}); err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}
	return cfg, nil
}

func principalDecodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode <principal>",
		Short: "Validate a principal and print its raw bytes as hex",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := identity.DecodePrincipal(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(raw))
			return nil
		},
	}
}

func identityNewCmd() *cobra.Command {
	var sender string
	cmd := &cobra.Command{
		Use:   "new",
		Short: "Generate an ed25519 identity, e.g. for the pool controller",
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := identity.Generate(sender)
			if err != nil {
				return err
			}
			key, err := identity.ParsePrivateKey(id.PrivateKey)
			if err != nil {
				return err
			}
			pemText, err := identity.EncodePrivateKeyPEM(key)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "principal: %s\n", id.Principal)
			fmt.Fprint(out, pemText)
			return nil
		},
	}
	cmd.Flags().StringVar(&sender, "sender", "controller", "sender label stored with the identity")
	return cmd
}

func eventsTailCmd() *cobra.Command {
	var workers int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Consume settlement events and print them as JSON lines",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			queue, err := openEvents(cfg)
			if err != nil {
				return err
			}
			defer queue.Close()

			enc := json.NewEncoder(cmd.OutOrStdout())
			err = queue.Consume(cmd.Context(), workers, func(_ context.Context, ev events.Event) error {
				return enc.Encode(ev)
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().IntVar(&workers, "workers", 1, "number of consumers")
	return cmd
}

func openEvents(cfg *config.Config) (events.Queue, error) {
	return events.Open(events.Config{
		Driver: cfg.Events.Driver,
		Redis: events.RedisQueueConfig{
			Address:  cfg.Events.Redis.Address,
			Password: cfg.Events.Redis.Password,
			DB:       cfg.Events.Redis.DB,
			Queue:    cfg.Events.Redis.Key,
		},
		RabbitMQ: events.RabbitMQConfig{
			URL:     cfg.Events.RabbitMQ.URL,
			Queue:   cfg.Events.RabbitMQ.Queue,
			Durable: cfg.Events.RabbitMQ.Durable,
		},
	})
}
