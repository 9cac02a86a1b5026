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
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"d7y.io/aiops/aiops/model"
	"d7y.io/aiops/aiops/training"
)

var trainFlags struct {
	kind       string
	name       string
	experiment string
	source     string
	window     time.Duration
	until      string
	params     map[string]string
	register   bool
	timeout    time.Duration
}

var trainCmd = &cobra.Command{
	Use:               "train",
	Short:             "train one model from the stored metrics",
	Long:              `train fits a model of the given kind on the stored window, records the run and prints its result.`,
	Args:              cobra.NoArgs,
	DisableAutoGenTag: true,
	SilenceUsage:      true,
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := trainRequest()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), trainFlags.timeout)
		defer cancel()

		svr, err := newServer(ctx)
		if err != nil {
			return err
		}
		defer svr.Close()

		result, trainErr := svr.Training().Train(ctx, req)
		if result != nil {
			encoder := yaml.NewEncoder(os.Stdout)
			defer encoder.Close()
			if err := encoder.Encode(result); err != nil {
				return err
			}
		}

		return trainErr
	},
}

func init() {
	flags := trainCmd.Flags()
	flags.StringVar(&trainFlags.kind, "kind", "", "model kind, one of sequence-classifier, multiclass-classifier, regressor and anomaly-scorer")
	flags.StringVar(&trainFlags.name, "name", "", "registered model name")
	flags.StringVar(&trainFlags.experiment, "experiment", "", "experiment of the run, defaults to the model name")
	flags.StringVar(&trainFlags.source, "source", "", "train on the samples of one source only")
	flags.DurationVar(&trainFlags.window, "window", 30*24*time.Hour, "length of the training window")
	flags.StringVar(&trainFlags.until, "until", "", "RFC3339 end of the training window, defaults to now")
	flags.StringToStringVar(&trainFlags.params, "param", nil, "hyperparameter overrides, e.g. --param rounds=100")
	flags.BoolVar(&trainFlags.register, "register", true, "register a new model version on success")
	flags.DurationVar(&trainFlags.timeout, "timeout", time.Hour, "deadline of the training invocation")
}

func trainRequest() (*training.Request, error) {
	kind, err := model.ParseKind(trainFlags.kind)
	if err != nil {
		return nil, err
	}

	until := time.Now().UTC()
	if trainFlags.until != "" {
		if until, err = time.Parse(time.RFC3339, trainFlags.until); err != nil {
			return nil, err
		}
	}

	return &training.Request{
		Kind:            kind,
		Name:            trainFlags.name,
		Experiment:      trainFlags.experiment,
		Source:          trainFlags.source,
		Since:           until.Add(-trainFlags.window),
		Until:           until,
		Hyperparameters: trainFlags.params,
		AutoRegister:    trainFlags.register,
	}, nil
}
