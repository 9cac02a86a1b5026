/*
 *     Copyright 2023 The Dragonfly Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *      http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"d7y.io/aiops/aiops"
	"d7y.io/aiops/aiops/config"
	"d7y.io/aiops/cmd/dependency"
	logger "d7y.io/aiops/internal/dflog"
	"d7y.io/aiops/pkg/dfpath"
	"d7y.io/aiops/version"
)

var (
	cfg *config.Config
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "aiops",
	Short: "the aiops model serving and training core",
	Long: `AIOps is a long-running process that ingests infrastructure and security metrics,
trains failure, threat, capacity and anomaly models, tracks their runs and versions,
and serves predictions from the production version of each model.`,
	Args:              cobra.NoArgs,
	DisableAutoGenTag: true,
	SilenceUsage:      true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		svr, err := newServer(ctx)
		if err != nil {
			return err
		}

		logger.Infof("version:\n%s", version.Version())
		dependency.SetupQuitSignalHandler(func() { svr.Stop() })
		return svr.Serve()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logger.Error(err)
		os.Exit(1)
	}
}

func init() {
	// Initialize default aiops config.
	cfg = config.New()

	// Initialize command and config.
	dependency.InitCommandAndConfig(rootCmd, cfg)
	rootCmd.AddCommand(trainCmd, sweepCmd)
}

// newServer validates the config, prepares the directories and loggers, and
// builds the server.
func newServer(ctx context.Context) (*aiops.Server, error) {
	// Convert config.
	if err := cfg.Convert(); err != nil {
		return nil, err
	}

	// Validate config.
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Initialize dfpath.
	d, err := initDfpath(&cfg.Server)
	if err != nil {
		return nil, err
	}

	rotateConfig := logger.LogRotateConfig{
		MaxSize:    cfg.Server.LogMaxSize,
		MaxAge:     cfg.Server.LogMaxAge,
		MaxBackups: cfg.Server.LogMaxBackups,
	}

	// Initialize logger.
	if err := logger.InitAIOps(cfg.Verbose, cfg.Console, d.LogDir(), rotateConfig); err != nil {
		return nil, fmt.Errorf("init aiops logger: %w", err)
	}

	return aiops.New(ctx, cfg, d)
}

func initDfpath(cfg *config.ServerConfig) (dfpath.Dfpath, error) {
	var options []dfpath.Option
	if cfg.LogDir != "" {
		options = append(options, dfpath.WithLogDir(cfg.LogDir))
	}

	if cfg.DataDir != "" {
		options = append(options, dfpath.WithDataDir(cfg.DataDir))
	}

	return dfpath.New(options...)
}
