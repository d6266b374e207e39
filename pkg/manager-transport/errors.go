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

import "fmt"

// ProtocolErrorReason discriminates transport validation failures.
type ProtocolErrorReason string

const (
	ReasonBadSignature  ProtocolErrorReason = "bad signature"
	ReasonBadLength     ProtocolErrorReason = "bad length"
	ReasonPhaseMismatch ProtocolErrorReason = "phase mismatch"
)

// ProtocolError - a command block wrapper failed validation, or the host
// direction contradicts the command's data phase. Phase mismatches are
// answered with a phase-error status wrapper; malformed wrappers are
// dropped without status since their tag cannot be trusted. Never fatal
// to the dispatch loop.
type ProtocolError struct {
	Reason ProtocolErrorReason

	// Signature carries the offending leading word for ReasonBadSignature;
	// Length the offending wire or command-block length for ReasonBadLength.
	Signature uint32
	Length    int
}

func NewBadSignatureError(signature uint32) *ProtocolError {
	return &ProtocolError{Reason: ReasonBadSignature, Signature: signature}
}

func NewBadLengthError(length int) *ProtocolError {
	return &ProtocolError{Reason: ReasonBadLength, Length: length}
}

func NewPhaseMismatchError() *ProtocolError {
	return &ProtocolError{Reason: ReasonPhaseMismatch}
}

func (e *ProtocolError) Error() string {
	switch e.Reason {
	case ReasonBadSignature:
		return fmt.Sprintf("cbw: %s 0x%08x", e.Reason, e.Signature)
	case ReasonBadLength:
		return fmt.Sprintf("cbw: %s %d", e.Reason, e.Length)
	}
	return fmt.Sprintf("cbw: %s", e.Reason)
}
