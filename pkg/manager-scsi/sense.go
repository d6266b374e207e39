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

// SenseData - the per-unit error state reported through REQUEST SENSE.
// Every failed command deposits its key and additional sense code here;
// REQUEST SENSE returns and clears it.
type SenseData struct {
	Key  uint8
	Asc  uint8
	Ascq uint8
}

// SenseResponseLength is the fixed-format response size the bridge emits.
const SenseResponseLength = 18

// FixedFormat encodes the sense data as a fixed-format sense response,
// current errors.
func (s SenseData) FixedFormat() []byte {
	data := make([]byte, SenseResponseLength)

	data[0] = 0x70 // current errors, fixed format
	data[2] = s.Key & 0xF
	data[7] = SenseResponseLength - 8
	data[12] = s.Asc
	data[13] = s.Ascq

	return data
}
