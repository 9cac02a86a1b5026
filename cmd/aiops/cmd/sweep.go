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
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"d7y.io/aiops/aiops/metricstore"
	logger "d7y.io/aiops/internal/dflog"
)

var sweepTimeout time.Duration

var sweepCmd = &cobra.Command{
	Use:               "sweep",
	Short:             "remove expired metric samples and flush rollups",
	Long:              `sweep runs the retention and rollup flush maintenance tasks once and exits.`,
	Args:              cobra.NoArgs,
	DisableAutoGenTag: true,
	SilenceUsage:      true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
		defer cancel()

		svr, err := newServer(ctx)
		if err != nil {
			return err
		}
		defer svr.Close()

		var errs *multierror.Error
		for _, id := range []string{metricstore.RetentionGCID, metricstore.RollupFlushGCID} {
			if err := svr.GC().Run(ctx, id); err != nil {
				errs = multierror.Append(errs, err)
				continue
			}
			logger.Infof("%s completed", id)
		}

		return errs.ErrorOrNil()
	},
}

func init() {
	sweepCmd.Flags().DurationVar(&sweepTimeout, "timeout", 10*time.Minute, "deadline of the sweep")
}
