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

// Package command tracks in-flight bridge commands through a fixed table
// of 32 slots. The table correlates commands submitted on the NVMe side
// back to the transport command that produced them: a completion's command
// id selects the slot by its low five bits, and the full id must match for
// the completion to be accepted. Stale and duplicate completions fall
// through without effect.
package command

import (
	"github.com/go-logr/logr"
)

const (
	// SlotCount - fixed size of the table; also the depth of the queues
	// fed from it.
	SlotCount = 32

	slotIndexMask = SlotCount - 1
)

// Table - the command slot table. Two logical producers touch it, the
// command-arrival path (allocates) and the completion path (frees), both
// on the dispatch thread.
type Table struct {
	slots [SlotCount]Slot

	// next is where the free-slot scan starts, advanced round robin so
	// indices are reused evenly.
	next uint8

	log logr.Logger
}

func NewTable(log logr.Logger) *Table {
	t := &Table{log: log.WithName("slots")}

	for i := range t.slots {
		t.slots[i].Index = uint8(i)
	}

	return t
}

// SlotIndex extracts the table index embedded in a correlation id.
func SlotIndex(correlationID uint16) uint8 {
	return uint8(correlationID & slotIndexMask)
}

// Allocate claims a free slot. The caller supplies the rolling command
// sequence; the slot's correlation id is formed from it with the slot
// index in the low five bits, keeping ids unique among active slots.
// Fails with TableFull when every index is occupied; the caller rejects
// the command without consuming any queue resource.
func (t *Table) Allocate(sequence uint16) (*Slot, error) {
	for i := 0; i < SlotCount; i++ {
		index := (int(t.next) + i) % SlotCount

		slot := &t.slots[index]
		if slot.State != SlotIdle {
			continue
		}

		t.next = uint8((index + 1) % SlotCount)

		*slot = Slot{
			Index:         uint8(index),
			CorrelationID: sequence<<5 | uint16(index),
			State:         SlotBuilding,
		}

		t.log.V(2).Info("Slot allocated", "index", index, "correlationId", slot.CorrelationID)

		return slot, nil
	}

	return nil, NewTableFullError(t.Active())
}

// MatchCompletion resolves a completion's command id to the slot that
// issued it, or nil when the slot was freed, reused, or never existed.
// A nil return is not an error; it is the idempotence guarantee against
// duplicate and late completions.
func (t *Table) MatchCompletion(correlationID uint16) *Slot {
	slot := &t.slots[SlotIndex(correlationID)]

	if !slot.active() || slot.CorrelationID != correlationID {
		t.log.V(2).Info("Completion unmatched, discarded", "correlationId", correlationID,
			"slotState", slot.State.String())
		return nil
	}

	return slot
}

// Free returns a slot to the pool. Only legal once the slot's status
// wrapper has been sent; anything earlier is a contract violation.
func (t *Table) Free(slot *Slot) error {
	if !slot.StatusSent() {
		return NewBadFreeError(slot.Index, slot.State)
	}

	t.log.V(2).Info("Slot freed", "index", slot.Index, "correlationId", slot.CorrelationID)

	t.slots[slot.Index] = Slot{Index: slot.Index}

	return nil
}

// AbortAll releases every non-idle slot without status, as on a transport
// interface reset. Commands already submitted to the device may still
// complete; those completions will no longer match and are discarded.
// Returns the number of slots aborted.
func (t *Table) AbortAll() int {
	aborted := 0

	for i := range t.slots {
		if t.slots[i].State == SlotIdle {
			continue
		}

		t.slots[i] = Slot{Index: uint8(i)}
		aborted++
	}

	if aborted > 0 {
		t.log.Info("All active slots aborted", "count", aborted)
	}

	return aborted
}

// Active counts the slots currently in use.
func (t *Table) Active() int {
	active := 0
	for i := range t.slots {
		if t.slots[i].State != SlotIdle {
			active++
		}
	}

	return active
}

// ActiveSlots returns the slots currently in use, in index order.
func (t *Table) ActiveSlots() []*Slot {
	slots := []*Slot{}
	for i := range t.slots {
		if t.slots[i].State != SlotIdle {
			slots = append(slots, &t.slots[i])
		}
	}

	return slots
}
