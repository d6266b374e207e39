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

package mockdevice

import (
	"bytes"
	"fmt"
	"math/bits"

	"github.com/HewlettPackard/structex"

	"github.com/NearNodeFlash/nnf-bridge/pkg/api"
	nvme "github.com/NearNodeFlash/nnf-bridge/pkg/manager-nvme"
)

// processDoorbell consumes submission entries from the queue's head up to
// the rung tail, executing each and producing its completion. Runs with
// the device lock held; a doorbell for a queue that does not exist is
// ignored, as hardware would.
func (d *Device) processDoorbell(id uint16, tail uint16) {
	q := d.queues[id]
	if q == nil {
		return
	}

	tail %= q.depth

	for q.sqHead != tail {
		raw := make([]byte, nvme.SubmissionEntrySize)
		copy(raw, d.buffer[q.sqBase+uint32(q.sqHead)*nvme.SubmissionEntrySize:])

		entry := nvme.SubmissionEntry{}
		if err := structex.DecodeByteBuffer(bytes.NewBuffer(raw), &entry); err != nil {
			panic(fmt.Sprintf("mockdevice: submission entry decode: %v", err))
		}

		q.sqHead = (q.sqHead + 1) % q.depth

		var result uint32
		var status uint16
		if q.id == 0 {
			result, status = d.executeAdmin(&entry)
		} else {
			result, status = d.executeIo(&entry)
		}

		d.complete(q, entry.CommandID, result, status)
	}
}

// complete writes one completion entry at the queue's completion tail,
// subject to the armed completion faults.
func (d *Device) complete(q *deviceQueue, commandID uint16, result uint32, status uint16) {
	if q.id != 0 && d.faults.dropCompletions > 0 {
		d.faults.dropCompletions--
		return
	}

	writes := 1
	if q.id != 0 && d.faults.duplicateCompletion {
		d.faults.duplicateCompletion = false
		writes = 2
	}

	for i := 0; i < writes; i++ {
		entry := nvme.CompletionEntry{
			Result:    result,
			SQHead:    q.sqHead,
			SQID:      q.id,
			CommandID: commandID,
			Status:    status<<1 | uint16(q.phase),
		}

		data, err := structex.EncodeByteBuffer(&entry)
		if err != nil {
			panic(fmt.Sprintf("mockdevice: completion entry encode: %v", err))
		}

		copy(d.buffer[q.cqBase+uint32(q.cqTail)*nvme.CompletionEntrySize:], data)

		q.cqTail = (q.cqTail + 1) % q.depth
		if q.cqTail == 0 {
			q.phase ^= 1
		}
	}

	d.flags |= api.FlagNvmeCompletion
}

func (d *Device) executeAdmin(entry *nvme.SubmissionEntry) (uint32, uint16) {
	switch entry.Opcode {
	case nvme.IdentifyOpcode:
		return d.executeIdentify(entry)

	case nvme.CreateIoCompletionQueueOpcode:
		id := uint16(entry.CDW10 & 0xFFFF)
		depth := uint16(entry.CDW10>>16) + 1

		d.pendingCompletions[id] = &completionQueue{
			base:  uint32(entry.PRP1),
			depth: depth,
		}
		return 0, nvme.StatusSuccess

	case nvme.CreateIoSubmissionQueueOpcode:
		id := uint16(entry.CDW10 & 0xFFFF)
		depth := uint16(entry.CDW10>>16) + 1
		cqid := uint16(entry.CDW11 >> 16)

		cq, ok := d.pendingCompletions[cqid]
		if !ok || cq.depth != depth {
			return 0, nvme.StatusInvalidField
		}

		d.queues[id] = &deviceQueue{
			id:     id,
			depth:  depth,
			sqBase: uint32(entry.PRP1),
			cqBase: cq.base,
			phase:  1,
		}
		return 0, nvme.StatusSuccess
	}

	return 0, nvme.StatusInvalidOpcode
}

func (d *Device) executeIdentify(entry *nvme.SubmissionEntry) (uint32, uint16) {
	switch uint8(entry.CDW10 & 0xFF) {
	case nvme.IdentifyControllerCNS:
		copy(d.buffer[uint32(entry.PRP1):], d.controllerPage())
		return 0, nvme.StatusSuccess

	case nvme.IdentifyNamespaceCNS:
		ns, ok := d.namespaces[entry.NamespaceID]
		if !ok {
			return 0, nvme.StatusInvalidField
		}
		copy(d.buffer[uint32(entry.PRP1):], d.namespacePage(ns))
		return 0, nvme.StatusSuccess
	}

	return 0, nvme.StatusInvalidField
}

func (d *Device) executeIo(entry *nvme.SubmissionEntry) (uint32, uint16) {
	if d.faults.failArmed {
		d.faults.failArmed = false
		return 0, d.faults.failStatus
	}

	switch entry.Opcode {
	case nvme.FlushOpcode:
		return 0, nvme.StatusSuccess

	case nvme.ReadOpcode, nvme.WriteOpcode:
		ns, ok := d.namespaces[entry.NamespaceID]
		if !ok {
			return 0, nvme.StatusInvalidField
		}

		lba := uint64(entry.CDW10) | uint64(entry.CDW11)<<32
		blocks := uint64(entry.CDW12&0xFFFF) + 1

		if lba >= ns.blockCount || blocks > ns.blockCount-lba {
			return 0, nvme.StatusLbaOutOfRange
		}

		offset := lba * uint64(ns.blockSize)
		length := blocks * uint64(ns.blockSize)
		address := uint32(entry.PRP1)

		if entry.Opcode == nvme.ReadOpcode {
			copy(d.buffer[address:], ns.data[offset:offset+length])
		} else {
			copy(ns.data[offset:offset+length], d.buffer[address:])
		}

		return 0, nvme.StatusSuccess
	}

	return 0, nvme.StatusInvalidOpcode
}

func padded(s string, width int) []byte {
	b := make([]byte, width)
	for i := range b {
		b[i] = ' '
	}
	copy(b, s)
	return b
}

func (d *Device) controllerPage() []byte {
	identify := nvme.IdentifyController{
		VendorID:       0x1590, // Hewlett Packard Enterprise
		NamespaceCount: uint32(len(d.namespaces)),
	}

	copy(identify.SerialNumber[:], padded(d.serial, len(identify.SerialNumber)))
	copy(identify.ModelNumber[:], padded(d.model, len(identify.ModelNumber)))
	copy(identify.FirmwareRevision[:], padded(d.firmware, len(identify.FirmwareRevision)))

	data, err := structex.EncodeByteBuffer(&identify)
	if err != nil {
		panic(fmt.Sprintf("mockdevice: identify controller encode: %v", err))
	}

	return data
}

func (d *Device) namespacePage(ns *namespaceModel) []byte {
	identify := nvme.IdentifyNamespace{
		Size:           ns.blockCount,
		Capacity:       ns.blockCount,
		Utilization:    ns.blockCount,
		LbaFormatCount: 1,
	}

	identify.LbaFormats[0] = nvme.LbaFormat{
		DataSize: uint8(bits.TrailingZeros32(ns.blockSize)),
	}

	data, err := structex.EncodeByteBuffer(&identify)
	if err != nil {
		panic(fmt.Sprintf("mockdevice: identify namespace encode: %v", err))
	}

	return data
}
