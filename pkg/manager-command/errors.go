/*
 * Copyright 2025 Hewlett Packard Enterprise Development LP
 * Other additional copyright holders may be indicated within.
 *
 * The entirety of this work is licensed under the Apache License,
 * Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.
 *
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package command

import "fmt"

type SlotErrorReason string

const (
	ReasonTableFull SlotErrorReason = "table full"
	ReasonBadFree   SlotErrorReason = "freed before status sent"
)

// SlotError - slot table contract violation. TableFull is pure
// backpressure: the incoming command is rejected before any queue resource
// is consumed. BadFree indicates a caller bug, never a runtime condition.
type SlotError struct {
	Reason SlotErrorReason
	Active int
	Index  uint8
	State  SlotState
}

func NewTableFullError(active int) *SlotError {
	return &SlotError{Reason: ReasonTableFull, Active: active}
}

func NewBadFreeError(index uint8, state SlotState) *SlotError {
	return &SlotError{Reason: ReasonBadFree, Index: index, State: state}
}

func (e *SlotError) Error() string {
	switch e.Reason {
	case ReasonTableFull:
		return fmt.Sprintf("slot table: %s, %d active", e.Reason, e.Active)
	}
	return fmt.Sprintf("slot table: slot %d %s, state %s", e.Index, e.Reason, e.State)
}
