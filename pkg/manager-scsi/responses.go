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

import "encoding/binary"

const (
	// StandardInquiryLength - the standard inquiry data the bridge returns.
	// Fixed 36 bytes covering the mandatory fields plus the vendor,
	// product, and revision identification strings.
	StandardInquiryLength = 36

	// InquiryVersionSpc4 - the SPC-4 version descriptor reported in
	// byte 2 of standard inquiry data.
	InquiryVersionSpc4 = 0x06

	// InquiryResponseFormat - response data format 2, the only format
	// defined since SPC-2.
	InquiryResponseFormat = 0x02

	inquiryVendorLength   = 8
	inquiryProductLength  = 16
	inquiryRevisionLength = 4
)

// padIdentity space-pads or truncates an identification string to the
// fixed width inquiry data requires.
func padIdentity(s string, width int) []byte {
	b := make([]byte, width)
	for i := range b {
		b[i] = ' '
	}
	copy(b, s)
	return b
}

func standardInquiryData(unit *LogicalUnit, vendor, product, revision string) []byte {
	data := make([]byte, StandardInquiryLength)

	data[0] = 0x00 // Direct access block device, connected
	if unit.Removable {
		data[1] = 0x80
	}
	data[2] = InquiryVersionSpc4
	data[3] = InquiryResponseFormat
	data[4] = StandardInquiryLength - 5 // Additional length

	copy(data[8:], padIdentity(vendor, inquiryVendorLength))
	copy(data[16:], padIdentity(product, inquiryProductLength))
	copy(data[32:], padIdentity(revision, inquiryRevisionLength))

	return data
}

func supportedVpdPages() []byte {
	return []byte{
		0x00, // Peripheral qualifier and device type
		VpdPageSupportedPages,
		0x00,
		0x02, // Page length
		VpdPageSupportedPages,
		VpdPageUnitSerialNumber,
	}
}

func unitSerialNumberPage(serial string) []byte {
	data := make([]byte, 4+len(serial))
	data[1] = VpdPageUnitSerialNumber
	data[3] = uint8(len(serial))
	copy(data[4:], serial)
	return data
}

func modeSense6Data(unit *LogicalUnit) []byte {
	data := make([]byte, 4)
	data[0] = 3 // Mode data length excluding itself
	if unit.WriteProtected {
		data[2] = 0x80
	}
	return data
}

func modeSense10Data(unit *LogicalUnit) []byte {
	data := make([]byte, 8)
	binary.BigEndian.PutUint16(data[0:], 6)
	if unit.WriteProtected {
		data[3] = 0x80
	}
	return data
}

func readCapacity10Data(unit *LogicalUnit) []byte {
	lastLba := unit.BlockCount - 1
	if lastLba > 0xFFFFFFFF {
		lastLba = 0xFFFFFFFF
	}

	data := make([]byte, 8)
	binary.BigEndian.PutUint32(data[0:], uint32(lastLba))
	binary.BigEndian.PutUint32(data[4:], unit.BlockSize)
	return data
}

func readCapacity16Data(unit *LogicalUnit) []byte {
	data := make([]byte, 32)
	binary.BigEndian.PutUint64(data[0:], unit.BlockCount-1)
	binary.BigEndian.PutUint32(data[8:], unit.BlockSize)
	return data
}

func readFormatCapacitiesData(unit *LogicalUnit) []byte {
	data := make([]byte, 12)
	data[3] = 8 // Capacity list length, one descriptor

	blockCount := unit.BlockCount
	if blockCount > 0xFFFFFFFF {
		blockCount = 0xFFFFFFFF
	}
	binary.BigEndian.PutUint32(data[4:], uint32(blockCount))

	data[8] = 0x02 // Formatted media
	blockSize := unit.BlockSize
	data[9] = uint8(blockSize >> 16)
	data[10] = uint8(blockSize >> 8)
	data[11] = uint8(blockSize)

	return data
}

func reportLunsData(luns []uint8) []byte {
	data := make([]byte, 8+8*len(luns))
	binary.BigEndian.PutUint32(data[0:], uint32(8*len(luns)))
	for i, lun := range luns {
		// Peripheral device addressing, single level
		data[8+8*i+1] = lun
	}
	return data
}

// clampResponse trims a locally built response to the allocation length
// the host granted. Responses never grow to fill the allocation.
func clampResponse(data []byte, allocation uint32) []byte {
	if uint32(len(data)) > allocation {
		return data[:allocation]
	}
	return data
}
