package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/efebarandurmaz/ragdemo/internal/config"
	"github.com/spf13/cobra"
)

const version = "1.0.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		addr       string
	)

	rootCmd := &cobra.Command{
		Use:           "ragdemo",
		Short:         "Retrieval service over a vector database with in-memory fallback",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (YAML)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(cfg)
		},
	}

	// Client commands talk to a running service.
	c := &client{}
	addCmd := &cobra.Command{
		Use:   "add <text>",
		Short: "Add a document to the knowledge base",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.post(cmd, "/add", map[string]string{"text": strings.Join(args, " ")})
		},
	}
	askCmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.post(cmd, "/ask", map[string]string{"question": strings.Join(args, " ")})
		},
	}
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show storage backend status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.get(cmd, "/status")
		},
	}
	for _, cmd := range []*cobra.Command{addCmd, askCmd, statusCmd} {
		cmd.Flags().StringVar(&addr, "addr", "http://localhost:8000", "Service base URL")
	}
	c.addr = &addr

	rootCmd.AddCommand(serveCmd, configCmd, addCmd, askCmd, statusCmd)
	return rootCmd
}

// loadConfig reads .env (if present) and then the layered configuration.
func loadConfig(path string) (*config.Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}
