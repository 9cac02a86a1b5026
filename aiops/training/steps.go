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
	"github.com/looplab/fsm"
)

// Steps of a training run.
const (
	StepPending   = "pending"
	StepDataset   = "dataset"
	StepFit       = "fit"
	StepEvaluate  = "evaluate"
	StepPersist   = "persist"
	StepSucceeded = "succeeded"
	StepFailed    = "failed"
)

// Step events of a training run.
const (
	EventLoad     = "load"
	EventFit      = "fit"
	EventEvaluate = "evaluate"
	EventPersist  = "persist"
	EventSucceed  = "succeed"
	EventFail     = "fail"
)

// newStepFSM returns the step machine of one training run.
func newStepFSM() *fsm.FSM {
	return fsm.NewFSM(
		StepPending,
		fsm.Events{
			{Name: EventLoad, Src: []string{StepPending}, Dst: StepDataset},
			{Name: EventFit, Src: []string{StepDataset}, Dst: StepFit},
			{Name: EventEvaluate, Src: []string{StepFit}, Dst: StepEvaluate},
			{Name: EventPersist, Src: []string{StepEvaluate}, Dst: StepPersist},
			{Name: EventSucceed, Src: []string{StepPersist}, Dst: StepSucceeded},
			{Name: EventFail, Src: []string{StepPending, StepDataset, StepFit, StepEvaluate, StepPersist}, Dst: StepFailed},
		},
		fsm.Callbacks{},
	)
}
