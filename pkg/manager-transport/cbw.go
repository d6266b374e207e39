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

package transport

import "encoding/binary"

// Bulk-Only Transport command block wrapper, USB Mass Storage Class
// Bulk-Only Transport Rev 1.0, section 5.1.
const (
	CbwSignature = 0x43425355 // "USBC" little endian
	CbwLength    = 31

	// CbwFlagDirectionIn - bit 7 of bmCBWFlags; set when the data phase
	// moves device to host.
	CbwFlagDirectionIn = 0x80

	// CbwCBMaxLength bounds bCBWCBLength; the wrapper reserves 16 bytes
	// for the command block.
	CbwCBMaxLength = 16
)

// ParsedCommand is a validated command block wrapper. CommandBlock holds
// exactly the bCBWCBLength bytes the host declared.
type ParsedCommand struct {
	Tag            uint32
	TransferLength uint32
	DirectionIn    bool
	LUN            uint8
	CommandBlock   []byte
}

// ParseCBW validates and decodes a 31-byte command block wrapper. It fails
// with BadLength when the wire length is not 31 or the embedded command
// block length is outside 1..16, and with BadSignature when the leading
// signature is not "USBC". No other validation is performed here; command
// block contents are the translator's concern.
func ParseCBW(data []byte) (*ParsedCommand, error) {
	if len(data) != CbwLength {
		return nil, NewBadLengthError(len(data))
	}

	if sig := binary.LittleEndian.Uint32(data[0:4]); sig != CbwSignature {
		return nil, NewBadSignatureError(sig)
	}

	cbLength := int(data[14] & 0x1F)
	if cbLength == 0 || cbLength > CbwCBMaxLength {
		return nil, NewBadLengthError(cbLength)
	}

	cmd := &ParsedCommand{
		Tag:            binary.LittleEndian.Uint32(data[4:8]),
		TransferLength: binary.LittleEndian.Uint32(data[8:12]),
		DirectionIn:    data[12]&CbwFlagDirectionIn != 0,
		LUN:            data[13] & 0x0F,
		CommandBlock:   make([]byte, cbLength),
	}

	copy(cmd.CommandBlock, data[15:15+cbLength])

	return cmd, nil
}
