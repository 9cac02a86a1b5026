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

package training

import (
	"context"

	"github.com/hashicorp/go-multierror"
	"github.com/looplab/fsm"

	"d7y.io/aiops/aiops/config"
	"d7y.io/aiops/aiops/metricstore"
	"d7y.io/aiops/aiops/model"
	"d7y.io/aiops/aiops/models"
	"d7y.io/aiops/aiops/tracker"
	"d7y.io/aiops/internal/dferrors"
	logger "d7y.io/aiops/internal/dflog"
)

// run is the state of one training invocation.
type run struct {
	*pipeline
	req    *Request
	params model.Hyperparameters
	id     string
	steps  *fsm.FSM
	result *Result

	// failedStep is the step the run stopped in.
	failedStep string

	// stored is a digest put into the artifact store and not yet logged to the run.
	stored string
}

// execute performs every step up to a succeeded run.
func (r *run) execute(ctx context.Context) error {
	if err := r.tracker.LogParams(ctx, r.id, r.params.Params()); err != nil {
		return err
	}

	m, err := model.New(r.req.Kind, r.params)
	if err != nil {
		return err
	}

	if err := r.steps.Event(EventLoad); err != nil {
		return err
	}

	dataset, err := r.dataset(ctx, m)
	if err != nil {
		return err
	}

	train, valid := r.split(dataset)
	if err := r.steps.Event(EventFit); err != nil {
		return err
	}

	fitCtx, fitSpan := tracer.Start(ctx, config.SpanTrainFit)
	fitSpan.SetAttributes(config.AttributeDatasetRows.Int(train.Len()))
	err = m.Fit(fitCtx, train)
	fitSpan.End()
	if err != nil {
		return err
	}

	if err := r.steps.Event(EventEvaluate); err != nil {
		return err
	}

	evalCtx, evalSpan := tracer.Start(ctx, config.SpanTrainEvaluate)
	evaluation, err := m.Evaluate(evalCtx, valid)
	evalSpan.End()
	if err != nil {
		return err
	}

	evaluation[MetricTrainRows] = float64(train.Len())
	evaluation[MetricValidationRows] = float64(valid.Len())
	if err := r.tracker.LogMetrics(ctx, r.id, evaluation); err != nil {
		return err
	}
	r.result.Metrics = evaluation

	if err := r.steps.Event(EventPersist); err != nil {
		return err
	}

	if err := r.persist(ctx, m); err != nil {
		return err
	}

	if err := r.tracker.Finalize(ctx, r.id, models.RunStatusSucceeded); err != nil {
		return err
	}

	r.result.Status = models.RunStatusSucceeded
	return r.steps.Event(EventSucceed)
}

// dataset materializes the training rows and enforces the minimum row count.
func (r *run) dataset(ctx context.Context, m model.Model) (*metricstore.Dataset, error) {
	ctx, span := tracer.Start(ctx, config.SpanTrainDataset)
	defer span.End()

	schema := m.DeclaredSchema()
	query := metricstore.DatasetQuery{
		Source:   r.req.Source,
		Kind:     schema.Features.Stream,
		Since:    r.req.Since,
		Until:    r.req.Until,
		Features: schema.Features.Fields,
	}

	if r.req.Kind == model.KindMulticlassClassifier {
		query.Label = metricstore.LabelThreatType
	}

	dataset, err := r.store.Dataset(ctx, query)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(config.AttributeDatasetRows.Int(dataset.Len()))

	if min := r.minRows(r.req.Kind); dataset.Len() < min {
		return nil, dferrors.Newf(dferrors.KindInsufficientData, "window has %d rows, %s requires %d", dataset.Len(), r.req.Kind, min)
	}

	if preparer, ok := m.(model.Preparer); ok {
		prepared, err := preparer.Prepare(dataset)
		if err != nil {
			return nil, err
		}

		if prepared.Len() < 2 {
			return nil, dferrors.Newf(dferrors.KindInsufficientData, "%d rows remain after preparing %d rows", prepared.Len(), dataset.Len())
		}

		dataset = prepared
	}

	logger.WithRun(r.id, r.req.Name).Infof("dataset has %d rows", dataset.Len())
	return dataset, nil
}

func (r *run) split(dataset *metricstore.Dataset) (*metricstore.Dataset, *metricstore.Dataset) {
	if r.req.Kind == model.KindMulticlassClassifier {
		return splitStratified(dataset, r.params.Seed)
	}

	return splitOrdered(dataset)
}

// persist stores the artifact and logs its digest to the run.
func (r *run) persist(ctx context.Context, m model.Model) error {
	ctx, span := tracer.Start(ctx, config.SpanTrainPersist)
	defer span.End()

	data, manifest, err := m.Save()
	if err != nil {
		return err
	}

	d, err := r.artifacts.Put(ctx, data, manifest)
	if err != nil {
		return err
	}
	r.stored = d

	if err := r.tracker.LogArtifact(ctx, r.id, d); err != nil {
		return err
	}
	r.stored = ""

	// A Delete of the same digest may have run between Put and LogArtifact.
	// Now that the run references d, a second Put restores it for good.
	if _, err := r.artifacts.Put(ctx, data, manifest); err != nil {
		return err
	}

	r.result.ArtifactDigest = d
	return nil
}

// fail finalizes the run as failed, or aborted when its context ended,
// with the error kind as reason and removes an artifact no run points at.
func (r *run) fail(ctx context.Context, cause error) {
	r.failedStep = r.steps.Current()
	r.result.Status = models.RunStatusFailed
	if dferrors.IsKind(cause, dferrors.KindDeadlineExceeded) {
		r.result.Status = models.RunStatusAborted
	}
	r.result.Metrics = nil
	r.result.ArtifactDigest = ""

	// The run is finalized even when ctx has expired.
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), finalizeTimeout)
		defer cancel()
	}

	var errs error
	if r.stored != "" {
		if err := r.artifacts.Delete(ctx, r.stored); err != nil && !dferrors.IsKind(err, dferrors.KindInUse) {
			errs = multierror.Append(errs, err)
		}
	}

	if err := r.tracker.SetTags(ctx, r.id, map[string]string{
		tracker.TagReason: string(dferrors.KindOf(cause)),
		tracker.TagError:  cause.Error(),
		TagStep:           r.failedStep,
	}); err != nil {
		errs = multierror.Append(errs, err)
	}

	if err := r.tracker.Finalize(ctx, r.id, r.result.Status); err != nil && !dferrors.IsKind(err, dferrors.KindIllegalTransition) {
		errs = multierror.Append(errs, err)
	}

	if err := r.steps.Event(EventFail); err != nil {
		errs = multierror.Append(errs, err)
	}

	if errs != nil {
		logger.WithRun(r.id, r.req.Name).Warnf("finalize failed run: %s", errs.Error())
	}
}
