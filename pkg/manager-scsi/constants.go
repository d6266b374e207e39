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

// Operation codes the bridge recognizes. Everything else is answered with
// CHECK CONDITION, sense ILLEGAL REQUEST / INVALID COMMAND OPERATION CODE.
const (
	TestUnitReady             uint8 = 0x00
	RequestSense              uint8 = 0x03
	Inquiry                   uint8 = 0x12
	ModeSense6                uint8 = 0x1A
	StartStopUnit             uint8 = 0x1B
	PreventAllowMediumRemoval uint8 = 0x1E
	ReadFormatCapacities      uint8 = 0x23
	ReadCapacity10            uint8 = 0x25
	Read10                    uint8 = 0x28
	Write10                   uint8 = 0x2A
	Verify10                  uint8 = 0x2F
	SynchronizeCache10        uint8 = 0x35
	ModeSense10               uint8 = 0x5A
	Read16                    uint8 = 0x88
	Write16                   uint8 = 0x8A
	ServiceActionIn16         uint8 = 0x9E
	ReportLuns                uint8 = 0xA0
)

// ServiceActionReadCapacity16 is the SERVICE ACTION IN(16) subcommand the
// bridge implements.
const ServiceActionReadCapacity16 uint8 = 0x10

// Sense keys.
const (
	SenseKeyNoSense        uint8 = 0x0
	SenseKeyNotReady       uint8 = 0x2
	SenseKeyMediumError    uint8 = 0x3
	SenseKeyHardwareError  uint8 = 0x4
	SenseKeyIllegalRequest uint8 = 0x5
	SenseKeyUnitAttention  uint8 = 0x6
	SenseKeyDataProtect    uint8 = 0x7
	SenseKeyAbortedCommand uint8 = 0xB
)

// Additional sense codes.
const (
	AscNone                    uint8 = 0x00
	AscLogicalUnitNotReady     uint8 = 0x04
	AscInvalidCommandOpcode    uint8 = 0x20
	AscLbaOutOfRange           uint8 = 0x21
	AscInvalidFieldInCdb       uint8 = 0x24
	AscLogicalUnitNotSupported uint8 = 0x25
	AscWriteProtected          uint8 = 0x27
	AscMediumNotPresent        uint8 = 0x3A
	AscInternalTargetFailure   uint8 = 0x44
)

// Additional sense code qualifiers used with AscLogicalUnitNotReady.
const (
	AscqCauseNotReportable   uint8 = 0x00
	AscqInitializingRequired uint8 = 0x02
)

// Vital product data pages served by INQUIRY with EVPD set.
const (
	VpdPageSupportedPages   uint8 = 0x00
	VpdPageUnitSerialNumber uint8 = 0x80
)
