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

// Bulk-Only Transport command status wrapper, section 5.2.
const (
	CswSignature = 0x53425355 // "USBS" little endian
	CswLength    = 13
)

// Status - the bCSWStatus byte of a command status wrapper.
type Status uint8

const (
	StatusGood       Status = 0x00
	StatusFailed     Status = 0x01
	StatusPhaseError Status = 0x02
)

func (s Status) String() string {
	switch s {
	case StatusGood:
		return "good"
	case StatusFailed:
		return "failed"
	case StatusPhaseError:
		return "phase error"
	}
	return "unknown"
}

// BuildCSW encodes a 13-byte command status wrapper. The tag must echo the
// wrapper of the command being closed; residue is the requested transfer
// length minus the bytes actually moved.
func BuildCSW(tag uint32, residue uint32, status Status) []byte {
	csw := make([]byte, CswLength)

	binary.LittleEndian.PutUint32(csw[0:4], CswSignature)
	binary.LittleEndian.PutUint32(csw[4:8], tag)
	binary.LittleEndian.PutUint32(csw[8:12], residue)
	csw[12] = uint8(status)

	return csw
}
