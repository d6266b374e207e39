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

// I/O command opcodes submitted on the I/O queue.
const (
	FlushOpcode uint8 = 0x00
	WriteOpcode uint8 = 0x01
	ReadOpcode  uint8 = 0x02
)

// Admin command opcodes submitted on the admin queue.
const (
	CreateIoSubmissionQueueOpcode uint8 = 0x01
	CreateIoCompletionQueueOpcode uint8 = 0x05
	IdentifyOpcode                uint8 = 0x06
)

// Identify CNS selectors.
const (
	IdentifyNamespaceCNS  uint8 = 0x00
	IdentifyControllerCNS uint8 = 0x01
)

// Completion status codes, status code type 0 (generic), as found in the
// status field after the phase tag is stripped.
const (
	StatusSuccess           uint16 = 0x00
	StatusInvalidOpcode     uint16 = 0x01
	StatusInvalidField      uint16 = 0x02
	StatusDataTransferError uint16 = 0x04
	StatusInternalError     uint16 = 0x06
	StatusLbaOutOfRange     uint16 = 0x80
)

const (
	SubmissionEntrySize = 64
	CompletionEntrySize = 16
)

// SubmissionEntry is the 64-byte submission queue entry, little endian on
// the wire. CommandID carries the bridge correlation id so completions can
// be matched back to their slot.
type SubmissionEntry struct {
	Opcode      uint8
	Flags       uint8
	CommandID   uint16
	NamespaceID uint32
	Reserved0   [2]uint32
	Metadata    uint64
	PRP1        uint64
	PRP2        uint64
	CDW10       uint32
	CDW11       uint32
	CDW12       uint32
	CDW13       uint32
	CDW14       uint32
	CDW15       uint32
}

// CompletionEntry is the 16-byte completion queue entry. Bit 0 of Status
// is the phase tag, toggled by the device on each queue wraparound; the
// remaining bits are the status field.
type CompletionEntry struct {
	Result    uint32
	Reserved0 uint32
	SQHead    uint16
	SQID      uint16
	CommandID uint16
	Status    uint16
}

// Phase extracts the phase tag.
func (e *CompletionEntry) Phase() uint8 {
	return uint8(e.Status & 0x1)
}

// StatusCode extracts the status field with the phase tag stripped.
func (e *CompletionEntry) StatusCode() uint16 {
	return e.Status >> 1
}

// NewIdentifyCommand builds an identify admin command for the given CNS
// selector; the page lands at the prp address.
func NewIdentifyCommand(commandID uint16, cns uint8, namespaceID uint32, prp uint64) *SubmissionEntry {
	return &SubmissionEntry{
		Opcode:      IdentifyOpcode,
		CommandID:   commandID,
		NamespaceID: namespaceID,
		PRP1:        prp,
		CDW10:       uint32(cns),
	}
}

// NewCreateCompletionQueueCommand builds the admin command establishing an
// I/O completion queue of the given depth at prp. The queue is physically
// contiguous; interrupts stay disabled, the bridge polls.
func NewCreateCompletionQueueCommand(commandID, queueID, depth uint16, prp uint64) *SubmissionEntry {
	return &SubmissionEntry{
		Opcode:    CreateIoCompletionQueueOpcode,
		CommandID: commandID,
		PRP1:      prp,
		CDW10:     uint32(depth-1)<<16 | uint32(queueID),
		CDW11:     0x1, // physically contiguous
	}
}

// NewCreateSubmissionQueueCommand builds the admin command establishing an
// I/O submission queue bound to the given completion queue.
func NewCreateSubmissionQueueCommand(commandID, queueID, completionQueueID, depth uint16, prp uint64) *SubmissionEntry {
	return &SubmissionEntry{
		Opcode:    CreateIoSubmissionQueueOpcode,
		CommandID: commandID,
		PRP1:      prp,
		CDW10:     uint32(depth-1)<<16 | uint32(queueID),
		CDW11:     uint32(completionQueueID)<<16 | 0x1,
	}
}
