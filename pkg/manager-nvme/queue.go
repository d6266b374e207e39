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

package nvme

import (
	"bytes"
	"fmt"

	"github.com/HewlettPackard/structex"
	"github.com/go-logr/logr"

	"github.com/NearNodeFlash/nnf-bridge/pkg/api"
)

// QueuePair - one submission/completion queue pair in buffer RAM. The
// firmware owns the tail of the submission ring and the head of the
// completion ring; the device reports its submission head in each
// completion entry. New completions are recognized by the phase tag, which
// the device inverts on every pass through the ring.
type QueuePair struct {
	ID    uint16
	Depth uint16

	sqTail uint16
	sqHead uint16
	cqHead uint16
	phase  uint8

	sqBase     uint32
	cqBase     uint32
	sqDoorbell uint32
	cqDoorbell uint32

	device api.DeviceController
	log    logr.Logger
}

func NewQueuePair(device api.DeviceController, id, depth uint16, sqBase, cqBase, sqDoorbell, cqDoorbell uint32, log logr.Logger) *QueuePair {
	return &QueuePair{
		ID:         id,
		Depth:      depth,
		phase:      1,
		sqBase:     sqBase,
		cqBase:     cqBase,
		sqDoorbell: sqDoorbell,
		cqDoorbell: cqDoorbell,
		device:     device,
		log:        log.WithName(fmt.Sprintf("queue-%d", id)),
	}
}

// Outstanding - entries submitted and not yet acknowledged by a completion.
func (q *QueuePair) Outstanding() int {
	return int((q.sqTail + q.Depth - q.sqHead) % q.Depth)
}

// Submit writes the entry at the submission tail and rings the doorbell.
// Fails with QueueFull when advancing the tail would collide with the
// head; with the slot table bounding admissions the caller never triggers
// this in normal operation.
func (q *QueuePair) Submit(entry *SubmissionEntry) error {
	next := (q.sqTail + 1) % q.Depth
	if next == q.sqHead {
		return NewQueueFullError(q.ID)
	}

	data, err := structex.EncodeByteBuffer(entry)
	if err != nil {
		return fmt.Errorf("submission entry encode: %w", err)
	}

	q.device.WriteBuffer(q.sqBase+uint32(q.sqTail)*SubmissionEntrySize, data)

	q.sqTail = next
	q.device.WriteRegister(q.sqDoorbell, uint8(q.sqTail))

	q.log.V(2).Info("Entry submitted", "opcode", entry.Opcode, "commandId", entry.CommandID,
		"tail", q.sqTail, "outstanding", q.Outstanding())

	return nil
}

// DrainCompletions consumes every new completion available in one pass,
// bounded by the queue depth so a faulted device cannot spin the loop
// forever. The completion head doorbell is rung once after the drain.
func (q *QueuePair) DrainCompletions() []CompletionEntry {
	completions := []CompletionEntry{}

	for i := uint16(0); i < q.Depth; i++ {
		raw := make([]byte, CompletionEntrySize)
		q.device.ReadBuffer(q.cqBase+uint32(q.cqHead)*CompletionEntrySize, raw)

		entry := CompletionEntry{}
		if err := structex.DecodeByteBuffer(bytes.NewBuffer(raw), &entry); err != nil {
			q.log.Error(err, "Completion entry decode failed", "head", q.cqHead)
			break
		}

		if entry.Phase() != q.phase {
			break
		}

		q.sqHead = entry.SQHead % q.Depth

		q.cqHead++
		if q.cqHead == q.Depth {
			q.cqHead = 0
			q.phase ^= 1
		}

		q.log.V(2).Info("Completion drained", "commandId", entry.CommandID,
			"status", entry.StatusCode(), "head", q.cqHead)

		completions = append(completions, entry)
	}

	if len(completions) > 0 {
		q.device.WriteRegister(q.cqDoorbell, uint8(q.cqHead))
	}

	return completions
}
