package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bionicotaku/lingo-utils-authjwt"
	"github.com/bionicotaku/lingo-utils-authjwt/internal/logger"
)

type app struct {
	configPath string
	envPath    string

	cfg *authjwt.Config
	log *zap.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:          "authjwt",
		Short:        "Issue and validate RS256 tokens and serve the JWKS document",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", os.Getenv("AUTHJWT_CONFIG"), "YAML config file (env AUTHJWT_CONFIG)")
	root.PersistentFlags().StringVar(&a.envPath, "env", ".env", "Optional .env file; existing variables win")

	root.AddCommand(
		newServeCmd(a),
		newIssueCmd(a),
		newValidateCmd(a),
		newJWKCmd(a),
	)
	return root
}

func (a *app) load() error {
	if a.envPath != "" {
		if err := godotenv.Load(a.envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", a.envPath, err)
		}
	}
	cfg, err := authjwt.LoadConfig(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = logger.New(logger.Config{
		Env:         cfg.Log.Env,
		Level:       cfg.Log.Level,
		ServiceName: "authjwt",
	})
	return nil
}
