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

package api

// Register map of the bridge. Byte-wide registers; addresses are offsets in
// the device window.
const (
	// RegLinkStatus - read-only link state, see LinkStatus* bits.
	RegLinkStatus uint32 = 0x00

	// RegIntStatus mirrors the level-held interrupt flags; RegIntAck clears
	// the bits written to it.
	RegIntStatus uint32 = 0x04
	RegIntAck    uint32 = 0x08

	// RegUsbControl - transport-side control strobes, see UsbControl* bits.
	RegUsbControl uint32 = 0x0C

	// RegUsbCbwLength - read-only count of bytes the host delivered into
	// the CBW buffer window for the current command.
	RegUsbCbwLength uint32 = 0x0E

	// RegEndpointModeBase + lun selects the endpoint transfer mode register
	// of that logical unit (16 consecutive registers).
	RegEndpointModeBase uint32 = 0x10

	// NVMe controller configuration/status, reduced to the enable/ready
	// handshake the bridge drives.
	RegNvmeCC   uint32 = 0x20
	RegNvmeCSTS uint32 = 0x24

	// Queue doorbells. Tail doorbells signal new submissions, head
	// doorbells release consumed completions.
	RegAdminSQTail uint32 = 0x30
	RegAdminCQHead uint32 = 0x34
	RegIoSQTail    uint32 = 0x38
	RegIoCQHead    uint32 = 0x3C
)

const (
	LinkStatusUsbUp  uint8 = 1 << 0
	LinkStatusPcieUp uint8 = 1 << 1

	// UsbControlSendCsw strobes transmission of the status wrapper staged
	// in the CSW buffer window.
	UsbControlSendCsw uint8 = 1 << 0

	NvmeCCEnable  uint8 = 1 << 0
	NvmeCSTSReady uint8 = 1 << 0
)

// Endpoint transfer modes selectable per logical unit.
const (
	EndpointModeBulk      uint8 = 0x00
	EndpointModeInterrupt uint8 = 0x01
)

// Buffer RAM map. The shared transfer memory is visible to the firmware,
// the DMA engine and the NVMe engine; the firmware owns the layout.
const (
	// CbwBufferBase holds the most recently received 31-byte command block
	// wrapper; CswBufferBase stages the 13-byte status wrapper for send.
	CbwBufferBase uint32 = 0x0000
	CswBufferBase uint32 = 0x0040

	// Queue rings, 32 entries each: submission entries are 64 bytes,
	// completion entries 16 bytes.
	AdminSQBase uint32 = 0x0100
	AdminCQBase uint32 = 0x0900
	IoSQBase    uint32 = 0x0B00
	IoCQBase    uint32 = 0x1300

	// IdentifyBase is the 4096-byte admin data window used for identify
	// page transfers during initialization.
	IdentifyBase uint32 = 0x1800

	// USB-side and NVMe-side data windows. The DMA engine moves command
	// payloads between them in bounded chunks.
	UsbDataBase uint32 = 0x04000
	UsbDataSize uint32 = 0x20000

	NvmeDataBase uint32 = 0x24000
	NvmeDataSize uint32 = 0x20000

	BufferSize uint32 = 0x44000
)
