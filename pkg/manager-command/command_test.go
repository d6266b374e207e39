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
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/go-logr/logr"
)

var _ = Describe("Command Slot Table", func() {

	var table *Table
	var sequence uint16

	allocate := func() *Slot {
		slot, err := table.Allocate(sequence)
		sequence++
		Expect(err).NotTo(HaveOccurred())
		Expect(slot).NotTo(BeNil())
		return slot
	}

	// Walk a slot to the point where freeing it becomes legal.
	finish := func(slot *Slot) {
		slot.State = SlotCompleting
		slot.MarkStatusSent()
		Expect(table.Free(slot)).To(Succeed())
	}

	BeforeEach(func() {
		table = NewTable(logr.Discard())
		sequence = 0
	})

	It("embeds the slot index in the low five bits of the correlation id", func() {
		for i := 0; i < SlotCount; i++ {
			slot := allocate()
			Expect(SlotIndex(slot.CorrelationID)).To(Equal(slot.Index))
		}
	})

	It("keeps correlation ids unique among active slots", func() {
		seen := map[uint16]bool{}
		indices := map[uint8]bool{}

		for i := 0; i < SlotCount; i++ {
			slot := allocate()
			Expect(seen[slot.CorrelationID]).To(BeFalse())
			Expect(indices[slot.Index]).To(BeFalse())
			seen[slot.CorrelationID] = true
			indices[slot.Index] = true
		}
	})

	It("rejects allocation with table full backpressure", func() {
		for i := 0; i < SlotCount; i++ {
			allocate()
		}
		Expect(table.Active()).To(Equal(SlotCount))

		_, err := table.Allocate(sequence)
		Expect(err).To(HaveOccurred())

		slotError := &SlotError{}
		Expect(errors.As(err, &slotError)).To(BeTrue())
		Expect(slotError.Reason).To(Equal(ReasonTableFull))
		Expect(slotError.Active).To(Equal(SlotCount))
	})

	It("allocates again once a slot is freed", func() {
		slots := make([]*Slot, SlotCount)
		for i := range slots {
			slots[i] = allocate()
		}

		finish(slots[7])
		Expect(table.Active()).To(Equal(SlotCount - 1))

		slot := allocate()
		Expect(slot.Index).To(Equal(uint8(7)))
	})

	It("matches a completion to the submitted slot", func() {
		slot := allocate()
		slot.State = SlotSubmitted

		Expect(table.MatchCompletion(slot.CorrelationID)).To(BeIdenticalTo(slot))
	})

	It("does not match slots that have not been submitted", func() {
		slot := allocate()
		Expect(slot.State).To(Equal(SlotBuilding))

		Expect(table.MatchCompletion(slot.CorrelationID)).To(BeNil())
	})

	It("ignores a duplicate completion after the slot is freed", func() {
		slot := allocate()
		slot.State = SlotAwaitingCompletion
		correlationID := slot.CorrelationID

		Expect(table.MatchCompletion(correlationID)).NotTo(BeNil())

		finish(slot)
		activeBefore := table.Active()

		Expect(table.MatchCompletion(correlationID)).To(BeNil())
		Expect(table.Active()).To(Equal(activeBefore))
	})

	It("does not match a reused index against a stale correlation id", func() {
		slots := make([]*Slot, SlotCount)
		for i := range slots {
			slots[i] = allocate()
		}

		target := slots[3]
		target.State = SlotAwaitingCompletion
		stale := target.CorrelationID
		finish(target)

		// The only free index, so the allocation reuses it with a fresh
		// sequence in the upper bits.
		reused, err := table.Allocate(sequence)
		sequence++
		Expect(err).NotTo(HaveOccurred())
		Expect(reused.Index).To(Equal(SlotIndex(stale)))
		Expect(reused.CorrelationID).NotTo(Equal(stale))
		reused.State = SlotSubmitted

		Expect(table.MatchCompletion(stale)).To(BeNil())
		Expect(table.MatchCompletion(reused.CorrelationID)).To(BeIdenticalTo(reused))
	})

	It("refuses to free a slot before its status wrapper is sent", func() {
		slot := allocate()
		slot.State = SlotAwaitingCompletion

		err := table.Free(slot)
		Expect(err).To(HaveOccurred())

		slotError := &SlotError{}
		Expect(errors.As(err, &slotError)).To(BeTrue())
		Expect(slotError.Reason).To(Equal(ReasonBadFree))

		Expect(table.Active()).To(Equal(1))
	})

	It("aborts all active slots and discards their late completions", func() {
		first := allocate()
		first.State = SlotSubmitted
		second := allocate()
		second.State = SlotAwaitingCompletion

		firstID, secondID := first.CorrelationID, second.CorrelationID

		Expect(table.AbortAll()).To(Equal(2))
		Expect(table.Active()).To(BeZero())

		Expect(table.MatchCompletion(firstID)).To(BeNil())
		Expect(table.MatchCompletion(secondID)).To(BeNil())
	})

	It("computes residue from requested and transferred lengths", func() {
		slot := allocate()
		slot.RequestedLength = 4096

		slot.Transferred = 0
		Expect(slot.Residue()).To(Equal(uint32(4096)))

		slot.Transferred = 1024
		Expect(slot.Residue()).To(Equal(uint32(3072)))

		slot.Transferred = 4096
		Expect(slot.Residue()).To(BeZero())
	})
})
