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
	"strings"
)

const IdentifyPageSize = 4096

// IdentifyController - identify controller data structure, CNS 01h.
// Reduced to the fields the bridge consumes; the reserved spans pad the
// full 4096-byte page so the wire layout is preserved.
type IdentifyController struct {
	VendorID                    uint16
	SubsystemVendorID           uint16
	SerialNumber                [20]byte
	ModelNumber                 [40]byte
	FirmwareRevision            [8]byte
	RecommendedArbitrationBurst uint8
	IEEE                        [3]byte
	MultiInterfaceCapabilities  uint8
	MaxDataTransferSize         uint8
	ControllerID                uint16
	Version                     uint32
	Reserved0                   [432]byte
	NamespaceCount              uint32
	Reserved1                   [3576]byte
}

func (id *IdentifyController) Model() string {
	return strings.TrimSpace(string(id.ModelNumber[:]))
}

func (id *IdentifyController) Serial() string {
	return strings.TrimSpace(string(id.SerialNumber[:]))
}

func (id *IdentifyController) Firmware() string {
	return strings.TrimSpace(string(id.FirmwareRevision[:]))
}

// LbaFormat - one LBA format descriptor. DataSize is the block size as a
// power of two.
type LbaFormat struct {
	MetadataSize        uint16
	DataSize            uint8
	RelativePerformance uint8
}

// IdentifyNamespace - identify namespace data structure, CNS 00h.
type IdentifyNamespace struct {
	Size                   uint64
	Capacity               uint64
	Utilization            uint64
	Features               uint8
	LbaFormatCount         uint8
	FormattedLbaIndex      uint8 `bitfield:"4"`
	FormattedLbaExtended   uint8 `bitfield:"1"`
	FormattedLbaReserved   uint8 `bitfield:"3"`
	MetadataCapabilities   uint8
	ProtectionCapabilities uint8
	ProtectionSettings     uint8
	Reserved0              [98]byte
	LbaFormats             [16]LbaFormat
	Reserved1              [3904]byte
}

// BlockSize resolves the in-use LBA format to a byte count.
func (id *IdentifyNamespace) BlockSize() uint32 {
	format := id.LbaFormats[id.FormattedLbaIndex&0xF]
	return uint32(1) << format.DataSize
}

// Namespace is the cached geometry of one attached namespace, resolved
// from its identify page at initialization.
type Namespace struct {
	ID         uint32
	BlockSize  uint32
	BlockCount uint64
}
