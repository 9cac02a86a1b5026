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

package dependency

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"d7y.io/aiops/aiops/config"
	logger "d7y.io/aiops/internal/dflog"
)

// InitCommandAndConfig binds the common flags of root and loads the config
// file before any command runs. Flags given on the command line win over the file.
func InitCommandAndConfig(root *cobra.Command, cfg *config.Config) {
	var (
		cfgFile string
		verbose bool
		console bool
	)

	flags := root.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "the path of configuration file with yaml extension name")
	flags.BoolVar(&verbose, "verbose", cfg.Verbose, "whether logger use debug level")
	flags.BoolVar(&console, "console", cfg.Console, "whether logger output records to the stdout")

	cobra.OnInitialize(func() {
		if cfgFile != "" {
			loaded, err := config.Load(cfgFile)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
			*cfg = *loaded
		}

		if flags.Changed("verbose") {
			cfg.Verbose = verbose
		}

		if flags.Changed("console") {
			cfg.Console = console
		}
	})

	root.AddCommand(VersionCmd)
}

// SetupQuitSignalHandler calls handler once on the first SIGINT or SIGTERM.
func SetupQuitSignalHandler(handler func()) {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-signals
		logger.Infof("receive %s signal, stopping", sig.String())
		signal.Stop(signals)
		handler()
	}()
}
