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

package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"github.com/NearNodeFlash/nnf-bridge/internal/mockdevice"
	"github.com/NearNodeFlash/nnf-bridge/pkg/bridge"
)

const cswTimeout = 5 * time.Second

// awaitCSW polls the host side for the status wrapper closing the last
// command.
func awaitCSW(ctx context.Context, device *mockdevice.Device) ([]byte, error) {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()

	deadline := time.Now().Add(cswTimeout)

	for {
		if csw, ok := device.HostCollectCSW(); ok {
			return csw, nil
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("no status wrapper within %s", cswTimeout)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func submitAndAwait(ctx context.Context, device *mockdevice.Device, cbw, payload []byte) (uint8, error) {
	device.HostSubmitCommand(cbw, payload)

	csw, err := awaitCSW(ctx, device)
	if err != nil {
		return 0, err
	}

	sent := binary.LittleEndian.Uint32(cbw[4:8])
	echoed := binary.LittleEndian.Uint32(csw[4:8])
	if echoed != sent {
		return 0, fmt.Errorf("status wrapper tag %d does not echo command tag %d", echoed, sent)
	}

	return csw[12], nil
}

// runWorkload generates a continuous host workload against the first
// configured unit: write a patterned block, read it back, compare. It is
// the simulator's stand-in for a real USB host.
func runWorkload(ctx context.Context, device *mockdevice.Device, deviceOpts *mockdevice.Options, config *bridge.Config, log logr.Logger) error {
	log = log.WithName("workload")

	unit := config.Units[0]
	geometry := deviceOpts.Namespaces[unit.NamespaceID-1]

	blockSize := geometry.BlockSize
	blockCount := geometry.BlockCount

	tag := uint32(0)
	lba := uint64(0)
	iterations := 0

	log.Info("Workload running", "lun", unit.LUN, "blockSize", blockSize, "blockCount", blockCount)

	for {
		select {
		case <-ctx.Done():
			log.Info("Workload stopped", "iterations", iterations)
			return nil
		default:
		}

		tag++
		payload := make([]byte, blockSize)
		for i := range payload {
			payload[i] = byte(uint32(i) + tag)
		}

		writeCdb := make([]byte, 10)
		writeCdb[0] = 0x2A
		binary.BigEndian.PutUint32(writeCdb[2:], uint32(lba))
		binary.BigEndian.PutUint16(writeCdb[7:], 1)

		status, err := submitAndAwait(ctx, device,
			mockdevice.BuildCBW(tag, blockSize, false, unit.LUN, writeCdb), payload)
		if err != nil {
			return err
		}
		if status != 0 {
			return fmt.Errorf("write at lba %d failed with status %d", lba, status)
		}

		tag++
		readCdb := make([]byte, 10)
		readCdb[0] = 0x28
		binary.BigEndian.PutUint32(readCdb[2:], uint32(lba))
		binary.BigEndian.PutUint16(readCdb[7:], 1)

		status, err = submitAndAwait(ctx, device,
			mockdevice.BuildCBW(tag, blockSize, true, unit.LUN, readCdb), nil)
		if err != nil {
			return err
		}
		if status != 0 {
			return fmt.Errorf("read at lba %d failed with status %d", lba, status)
		}

		if data := device.HostCollectData(blockSize); !bytes.Equal(data, payload) {
			return fmt.Errorf("read at lba %d returned wrong data", lba)
		}

		lba = (lba + 1) % blockCount
		iterations++
		if iterations%256 == 0 {
			log.Info("Workload progress", "iterations", iterations, "lba", lba)
		}
	}
}
