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

import (
	dma "github.com/NearNodeFlash/nnf-bridge/pkg/manager-dma"
)

// Direction of a command's data phase, as implied by the SCSI command.
type Direction int

const (
	DirectionNone Direction = iota
	DirectionRead
	DirectionWrite
)

func (d Direction) String() string {
	switch d {
	case DirectionRead:
		return "read"
	case DirectionWrite:
		return "write"
	}
	return "none"
}

// SlotState - lifecycle of one in-flight command.
//
// Idle slots are free. A slot moves through Building (translation and
// buffer setup), Submitted (queue entry written and doorbell rung),
// AwaitingCompletion, Completing (completion matched, data and status
// phases finishing) and back to Idle. Error is terminal until the failed
// status wrapper has been sent and the slot freed. The state field is the
// only guard against reuse of a slot before its status wrapper goes out;
// the single-threaded dispatch model needs no further locking.
type SlotState int

const (
	SlotIdle SlotState = iota
	SlotBuilding
	SlotSubmitted
	SlotAwaitingCompletion
	SlotCompleting
	SlotErrored
)

func (s SlotState) String() string {
	switch s {
	case SlotIdle:
		return "idle"
	case SlotBuilding:
		return "building"
	case SlotSubmitted:
		return "submitted"
	case SlotAwaitingCompletion:
		return "awaiting-completion"
	case SlotCompleting:
		return "completing"
	case SlotErrored:
		return "error"
	}
	return "unknown"
}

// Slot tracks one outstanding command from wrapper arrival to status
// wrapper transmission. Its correlation id carries the slot index in the
// low five bits; the remainder is a rolling sequence that disambiguates
// successive occupants of the same index.
type Slot struct {
	Index         uint8
	CorrelationID uint16

	// Identity of the originating wrapper.
	Tag    uint32
	LUN    uint8
	OpCode uint8

	Direction       Direction
	RequestedLength uint32
	RemainingLength uint32
	Transferred     uint32

	RetryCount uint8
	State      SlotState

	// NvmeStatus holds the completion status code reported by the device,
	// zero on success.
	NvmeStatus uint16

	// Descriptor is the transfer owned by this slot, nil for commands with
	// no data phase. It is discarded when the slot completes or errors.
	Descriptor *dma.Descriptor

	statusSent bool
}

// Residue is the requested transfer length minus the bytes actually moved,
// as reported in the closing status wrapper.
func (s *Slot) Residue() uint32 {
	if s.Transferred >= s.RequestedLength {
		return 0
	}
	return s.RequestedLength - s.Transferred
}

// MarkStatusSent records that the closing status wrapper went out; only
// then may the slot be freed.
func (s *Slot) MarkStatusSent() { s.statusSent = true }

func (s *Slot) StatusSent() bool { return s.statusSent }

// active reports whether the slot may still match a completion.
func (s *Slot) active() bool {
	return s.State == SlotSubmitted || s.State == SlotAwaitingCompletion
}
