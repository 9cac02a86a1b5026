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

package registry

import (
	"errors"

	"github.com/looplab/fsm"

	"d7y.io/aiops/aiops/models"
	"d7y.io/aiops/internal/dferrors"
)

const (
	// StageEventStage moves a candidate into staging.
	StageEventStage = "stage"

	// StageEventPromote moves a staging version into production.
	StageEventPromote = "promote"

	// StageEventArchive retires a staging or production version.
	StageEventArchive = "archive"
)

// Stages lists every stage.
var Stages = []string{models.StageCandidate, models.StageStaging, models.StageProduction, models.StageArchived}

// stageEvents maps a target stage to the event reaching it.
var stageEvents = map[string]string{
	models.StageStaging:    StageEventStage,
	models.StageProduction: StageEventPromote,
	models.StageArchived:   StageEventArchive,
}

// newStageFSM returns the lifecycle machine of a version in stage current.
// Archived is terminal and no event leaves it.
func newStageFSM(current string) *fsm.FSM {
	return fsm.NewFSM(
		current,
		fsm.Events{
			{Name: StageEventStage, Src: []string{models.StageCandidate}, Dst: models.StageStaging},
			{Name: StageEventPromote, Src: []string{models.StageStaging}, Dst: models.StageProduction},
			{Name: StageEventArchive, Src: []string{models.StageStaging, models.StageProduction}, Dst: models.StageArchived},
		},
		fsm.Callbacks{},
	)
}

// transitionStage validates moving from current to target and returns target.
func transitionStage(current, target string) (string, error) {
	event, ok := stageEvents[target]
	if !ok {
		return "", dferrors.Newf(dferrors.KindIllegalTransition, "%s to %s is not allowed", current, target)
	}

	machine := newStageFSM(current)
	if err := machine.Event(event); err != nil {
		var invalid fsm.InvalidEventError
		if errors.As(err, &invalid) {
			return "", dferrors.Newf(dferrors.KindIllegalTransition, "%s to %s is not allowed", current, target)
		}

		return "", dferrors.Wrapf(dferrors.KindIllegalTransition, err, "%s to %s", current, target)
	}

	return machine.Current(), nil
}

// ValidStage reports whether stage is a known stage.
func ValidStage(stage string) bool {
	for _, s := range Stages {
		if s == stage {
			return true
		}
	}

	return false
}
