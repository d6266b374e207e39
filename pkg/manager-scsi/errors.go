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

package scsi

import "fmt"

// CommandError - a command the bridge cannot or will not execute. Carries
// the sense data deposited on the unit so the host can recover the cause
// with REQUEST SENSE. Always answered with a failed status wrapper.
type CommandError struct {
	Reason string
	Opcode uint8
	LUN    uint8
	LBA    uint64

	Sense SenseData
}

func NewUnsupportedCommandError(opcode uint8) *CommandError {
	return &CommandError{
		Reason: "unsupported command",
		Opcode: opcode,
		Sense:  SenseData{Key: SenseKeyIllegalRequest, Asc: AscInvalidCommandOpcode},
	}
}

func NewUnsupportedLunError(lun uint8, opcode uint8) *CommandError {
	return &CommandError{
		Reason: "logical unit not supported",
		Opcode: opcode,
		LUN:    lun,
		Sense:  SenseData{Key: SenseKeyIllegalRequest, Asc: AscLogicalUnitNotSupported},
	}
}

func NewLbaOutOfRangeError(opcode uint8, lba uint64) *CommandError {
	return &CommandError{
		Reason: "lba out of range",
		Opcode: opcode,
		LBA:    lba,
		Sense:  SenseData{Key: SenseKeyIllegalRequest, Asc: AscLbaOutOfRange},
	}
}

func NewInvalidFieldError(opcode uint8) *CommandError {
	return &CommandError{
		Reason: "invalid field in cdb",
		Opcode: opcode,
		Sense:  SenseData{Key: SenseKeyIllegalRequest, Asc: AscInvalidFieldInCdb},
	}
}

func NewNotReadyError(opcode uint8) *CommandError {
	return &CommandError{
		Reason: "unit not ready",
		Opcode: opcode,
		Sense:  SenseData{Key: SenseKeyNotReady, Asc: AscLogicalUnitNotReady, Ascq: AscqInitializingRequired},
	}
}

func NewWriteProtectedError(opcode uint8) *CommandError {
	return &CommandError{
		Reason: "write protected",
		Opcode: opcode,
		Sense:  SenseData{Key: SenseKeyDataProtect, Asc: AscWriteProtected},
	}
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("scsi: opcode 0x%02x %s (sense %X/%02X/%02X)",
		e.Opcode, e.Reason, e.Sense.Key, e.Sense.Asc, e.Sense.Ascq)
}
