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

package dma

import "fmt"

type TransferErrorReason string

const (
	ReasonTimeout       TransferErrorReason = "engine timeout"
	ReasonChunkMismatch TransferErrorReason = "chunk accounting mismatch"
)

// TransferError - terminal failure of a transfer. Timeout is the one place
// hardware non-response surfaces as an error for the owning slot instead of
// an unbounded spin; ChunkMismatch indicates the chunk math went
// inconsistent and the transfer cannot be trusted.
type TransferError struct {
	Reason TransferErrorReason

	Polls       uint32
	ChunkLength uint32
	Transferred uint32
	TotalLength uint32
}

func NewTimeoutError(polls, chunkLength uint32) *TransferError {
	return &TransferError{Reason: ReasonTimeout, Polls: polls, ChunkLength: chunkLength}
}

func NewChunkMismatchError(transferred, totalLength uint32) *TransferError {
	return &TransferError{Reason: ReasonChunkMismatch, Transferred: transferred, TotalLength: totalLength}
}

func (e *TransferError) Error() string {
	switch e.Reason {
	case ReasonTimeout:
		return fmt.Sprintf("dma: %s after %d polls, chunk %d bytes", e.Reason, e.Polls, e.ChunkLength)
	}
	return fmt.Sprintf("dma: %s, %d of %d bytes", e.Reason, e.Transferred, e.TotalLength)
}
