package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/config"
	logpkg "github.com/Ingee529/UIC-RAG-Policy-chatbot/internal/logger"
)

// app carries what every subcommand needs once the root has loaded it.
type app struct {
	env    string
	cfg    config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "policyrag",
		Short: "Hybrid retrieval engine for policy documents",
		Long: `policyrag answers retrieval queries against an immutable index snapshot built from
a directory of policy documents. Each query combines TF-IDF keyword search with dense
embedding search and can be reranked by an external cross-encoder.

Configuration is read from config/<env>.yaml, where env comes from --env or the ENV
variable (default: local). ${VAR} references in the file are expanded from the
environment and from a .env file in the working directory.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			cfg, err := config.Load(a.env)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logpkg.NewLogger(a.env, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("create logger: %w", err)
			}
			a.cfg = cfg
			a.logger = logger
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	root.PersistentFlags().StringVar(&a.env, "env", config.GetEnv(), "configuration environment (config/<env>.yaml)")

	root.AddCommand(
		newServeCmd(a),
		newBuildCmd(a),
		newRetrieveCmd(a),
		newVersionCmd(),
	)
	return root
}
