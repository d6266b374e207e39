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

// Package dma drives the buffer-to-buffer transfer engine of the bridge.
// The engine moves at most one bounded chunk at a time; transfers larger
// than the chunk limit are split and each chunk is polled to completion
// before the next is issued. Polling is non-blocking and counted so a
// wedged engine becomes a terminal error for the owning command rather
// than an infinite spin.
package dma

import (
	"github.com/go-logr/logr"

	"github.com/NearNodeFlash/nnf-bridge/pkg/api"
)

// State of a transfer descriptor.
type State int

const (
	StateIdle State = iota
	StateInFlight
	StateDone
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInFlight:
		return "in-flight"
	case StateDone:
		return "done"
	case StateTimedOut:
		return "timed out"
	}
	return "unknown"
}

// TransferStatus is the per-poll verdict on a transfer.
type TransferStatus int

const (
	// TransferActive - the engine is busy or the next chunk was just
	// issued; poll again on a later dispatch.
	TransferActive TransferStatus = iota

	// TransferDone - all chunks completed, transferred equals the total.
	TransferDone

	// TransferFailed - the transfer is dead; the descriptor state holds
	// TimedOut and the returned error the particulars.
	TransferFailed
)

// Descriptor describes one transfer between buffer RAM windows. A
// descriptor is owned by exactly one command slot and discarded when that
// slot completes or errors.
type Descriptor struct {
	Source      uint32
	Destination uint32
	TotalLength uint32
	Transferred uint32

	// ChunkLimit caps a single engine burst. The hardware limit is not
	// architecturally fixed, so it arrives from configuration.
	ChunkLimit uint32

	State State

	// Chunks counts issued bursts; tests and metrics consume it.
	Chunks uint32

	chunkLength uint32
	pollCount   uint32
}

// Manager issues and polls transfers against the device engine. The engine
// is single-channel: callers drive one descriptor at a time.
type Manager struct {
	device     api.DeviceController
	pollBudget uint32
	log        logr.Logger
}

// NewManager returns a transfer manager whose polls give up after
// pollBudget consecutive busy indications on one chunk.
func NewManager(device api.DeviceController, pollBudget uint32, log logr.Logger) *Manager {
	return &Manager{
		device:     device,
		pollBudget: pollBudget,
		log:        log.WithName("dma"),
	}
}

// Start issues the first chunk of the transfer. A zero-length transfer
// completes immediately without touching the engine.
func (m *Manager) Start(desc *Descriptor) error {
	if desc.ChunkLimit == 0 {
		return NewChunkMismatchError(0, desc.TotalLength)
	}

	desc.Transferred = 0
	desc.Chunks = 0

	if desc.TotalLength == 0 {
		desc.State = StateDone
		return nil
	}

	m.issue(desc)

	return nil
}

// Poll performs one non-blocking check of the engine. When the current
// chunk has landed it accounts the bytes and either issues the next chunk
// or finishes the transfer. Returns TransferFailed with a TransferError
// once the poll budget for a single chunk is exhausted.
func (m *Manager) Poll(desc *Descriptor) (TransferStatus, error) {
	switch desc.State {
	case StateDone:
		return TransferDone, nil
	case StateTimedOut:
		return TransferFailed, NewTimeoutError(desc.pollCount, desc.chunkLength)
	case StateIdle:
		return TransferActive, nil
	}

	if m.device.DMABusy() {
		desc.pollCount++
		if desc.pollCount > m.pollBudget {
			desc.State = StateTimedOut

			err := NewTimeoutError(desc.pollCount, desc.chunkLength)
			m.log.Error(err, "Transfer abandoned", "transferred", desc.Transferred,
				"total", desc.TotalLength)

			return TransferFailed, err
		}

		return TransferActive, nil
	}

	desc.Transferred += desc.chunkLength

	if desc.Transferred > desc.TotalLength {
		desc.State = StateTimedOut
		return TransferFailed, NewChunkMismatchError(desc.Transferred, desc.TotalLength)
	}

	m.log.V(2).Info("Chunk complete", "chunk", desc.chunkLength,
		"transferred", desc.Transferred, "total", desc.TotalLength)

	if desc.Transferred < desc.TotalLength {
		m.issue(desc)
		return TransferActive, nil
	}

	desc.State = StateDone

	return TransferDone, nil
}

// issue triggers the next burst starting at the current offset.
func (m *Manager) issue(desc *Descriptor) {
	chunk := desc.TotalLength - desc.Transferred
	if chunk > desc.ChunkLimit {
		chunk = desc.ChunkLimit
	}

	m.device.TriggerDMA(desc.Source+desc.Transferred, desc.Destination+desc.Transferred, chunk)

	desc.chunkLength = chunk
	desc.pollCount = 0
	desc.Chunks++
	desc.State = StateInFlight
}
