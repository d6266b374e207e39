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

import "fmt"

// DeviceError - the device completed a command with a nonzero status.
// Reported to the host as a failed status wrapper; never fatal to the
// dispatch loop.
type DeviceError struct {
	Opcode    uint8
	CommandID uint16
	Status    uint16
}

func NewDeviceError(opcode uint8, commandID uint16, status uint16) *DeviceError {
	return &DeviceError{Opcode: opcode, CommandID: commandID, Status: status}
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("nvme: opcode 0x%02x command %d failed, status 0x%02x",
		e.Opcode, e.CommandID, e.Status)
}

// QueueFullError - advancing the submission tail would collide with the
// head. The ring holds one entry fewer than the slot table, so the last
// admission can hit this; it is pure backpressure, answered with a failed
// status wrapper and cleared as completions drain.
type QueueFullError struct {
	QueueID uint16
}

func NewQueueFullError(queueID uint16) *QueueFullError {
	return &QueueFullError{QueueID: queueID}
}

func (e *QueueFullError) Error() string {
	return fmt.Sprintf("nvme: submission queue %d full", e.QueueID)
}
