// Command bamanctl drives the baman-engine services from a terminal:
// managing assistants, digesting sources and chatting with an assistant.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/brahmalabs/baman-engine/pkg/app"
	"github.com/brahmalabs/baman-engine/pkg/auth"
	"github.com/brahmalabs/baman-engine/pkg/config"
)

// Version is set at build time via ldflags
var Version = "dev"

var (
	configPath string
	token      string
	output     string
	verbose    bool

	engine  *app.App
	session  *auth.SessionContext
)

var rootCmd = &cobra.Command{
	Use:   "bamanctl",
	Short: "Manage tutoring assistants, their content and conversations",
	Long: `bamanctl talks to the tutoring backend with the caller's credential.

Teachers create assistants, manage students and digest content; students
chat with the assistants they belong to.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if output != "yaml" && output != "json" {
			return fmt.Errorf("--output must be yaml or json, got %q", output)
		}

		cfg, err := config.LoadFrom(configPath, Version)
		if err != nil {
			return err
		}

		logger, err := app.NewLogger(cfg.Env, verbose)
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}
		if !verbose {
			logger = logger.WithOptions(zap.IncreaseLevel(zap.WarnLevel))
		}

		session, err = sessionFromToken(token)
		if err != nil {
			return err
		}

		engine, err = app.New(cmd.Context(), cfg, logger)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if engine != nil {
			engine.Close()
			_ = engine.Logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultConfigPath, "Path to config file (environment only if missing)")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("BAMAN_TOKEN"), "Bearer credential (or set BAMAN_TOKEN)")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "yaml", "Output format: yaml or json")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	rootCmd.AddCommand(assistantsCmd, studentsCmd, digestCmd, uploadCmd, contentCmd, chatCmd)
}

// sessionFromToken reads the credential's claims without verifying the
// signature; the backend verifies it on every call.
func sessionFromToken(raw string) (*auth.SessionContext, error) {
	if raw == "" {
		return nil, fmt.Errorf("a credential is required: pass --token or set BAMAN_TOKEN")
	}
	parser, err := auth.NewJWKSClient(context.Background(), &auth.JWKSConfig{EnableVerification: false})
	if err != nil {
		return nil, err
	}
	claims, err := parser.ValidateToken(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid credential: %w", err)
	}
	return auth.NewSessionContext(raw, claims), nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
