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

import (
	"errors"

	"github.com/go-logr/logr"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/NearNodeFlash/nnf-bridge/internal/mockdevice"
	"github.com/NearNodeFlash/nnf-bridge/pkg/api"
)

var _ = Describe("Transfer Manager", func() {

	var device *mockdevice.Device
	var manager *Manager

	pattern := func(length uint32) []byte {
		data := make([]byte, length)
		for i := range data {
			data[i] = byte(i * 7)
		}
		return data
	}

	newDescriptor := func(length, chunkLimit uint32) *Descriptor {
		return &Descriptor{
			Source:      api.NvmeDataBase,
			Destination: api.UsbDataBase,
			TotalLength: length,
			ChunkLimit:  chunkLimit,
		}
	}

	BeforeEach(func() {
		device = mockdevice.NewDevice(mockdevice.NewDefaultOptions())
		manager = NewManager(device, 4, logr.Discard())
	})

	It("moves a transfer within the chunk limit in one burst", func() {
		data := pattern(512)
		device.WriteBuffer(api.NvmeDataBase, data)

		desc := newDescriptor(512, 0x8000)
		Expect(manager.Start(desc)).To(Succeed())

		status, err := manager.Poll(desc)
		Expect(err).NotTo(HaveOccurred())
		Expect(status).To(Equal(TransferDone))

		Expect(desc.Chunks).To(Equal(uint32(1)))
		Expect(desc.Transferred).To(Equal(uint32(512)))
		Expect(desc.State).To(Equal(StateDone))
		Expect(device.HostCollectData(512)).To(Equal(data))
	})

	It("splits a transfer into chunks and polls each to completion", func() {
		data := pattern(4096)
		device.WriteBuffer(api.NvmeDataBase, data)

		desc := newDescriptor(4096, 512)
		Expect(manager.Start(desc)).To(Succeed())

		for i := 0; i < 7; i++ {
			status, err := manager.Poll(desc)
			Expect(err).NotTo(HaveOccurred())
			Expect(status).To(Equal(TransferActive))
		}

		status, err := manager.Poll(desc)
		Expect(err).NotTo(HaveOccurred())
		Expect(status).To(Equal(TransferDone))

		Expect(desc.Chunks).To(Equal(uint32(8)))
		Expect(desc.Transferred).To(Equal(uint32(4096)))
		Expect(device.HostCollectData(4096)).To(Equal(data))
	})

	It("finishes a ragged tail chunk short of the limit", func() {
		data := pattern(1100)
		device.WriteBuffer(api.NvmeDataBase, data)

		desc := newDescriptor(1100, 512)
		Expect(manager.Start(desc)).To(Succeed())

		statuses := []TransferStatus{}
		for i := 0; i < 3; i++ {
			status, err := manager.Poll(desc)
			Expect(err).NotTo(HaveOccurred())
			statuses = append(statuses, status)
		}

		Expect(statuses).To(Equal([]TransferStatus{TransferActive, TransferActive, TransferDone}))
		Expect(desc.Chunks).To(Equal(uint32(3)))
		Expect(desc.Transferred).To(Equal(uint32(1100)))
		Expect(device.HostCollectData(1100)).To(Equal(data))
	})

	It("keeps a chunk active while the engine reports busy", func() {
		device.SetDMABusyPolls(2)
		device.WriteBuffer(api.NvmeDataBase, pattern(256))

		desc := newDescriptor(256, 0x8000)
		Expect(manager.Start(desc)).To(Succeed())

		for i := 0; i < 2; i++ {
			status, err := manager.Poll(desc)
			Expect(err).NotTo(HaveOccurred())
			Expect(status).To(Equal(TransferActive))
		}

		status, err := manager.Poll(desc)
		Expect(err).NotTo(HaveOccurred())
		Expect(status).To(Equal(TransferDone))
	})

	It("abandons the transfer when the engine wedges past the poll budget", func() {
		device.WedgeDMA()
		device.WriteBuffer(api.NvmeDataBase, pattern(256))

		desc := newDescriptor(256, 0x8000)
		Expect(manager.Start(desc)).To(Succeed())

		for i := 0; i < 4; i++ {
			status, err := manager.Poll(desc)
			Expect(err).NotTo(HaveOccurred())
			Expect(status).To(Equal(TransferActive))
		}

		status, err := manager.Poll(desc)
		Expect(status).To(Equal(TransferFailed))
		Expect(desc.State).To(Equal(StateTimedOut))

		transferErr := &TransferError{}
		Expect(errors.As(err, &transferErr)).To(BeTrue())
		Expect(transferErr.Reason).To(Equal(ReasonTimeout))

		// The verdict is stable across further polls.
		status, err = manager.Poll(desc)
		Expect(status).To(Equal(TransferFailed))
		Expect(err).To(HaveOccurred())
	})

	It("completes a zero length transfer without touching the engine", func() {
		desc := newDescriptor(0, 0x8000)
		Expect(manager.Start(desc)).To(Succeed())
		Expect(desc.State).To(Equal(StateDone))

		status, err := manager.Poll(desc)
		Expect(err).NotTo(HaveOccurred())
		Expect(status).To(Equal(TransferDone))
		Expect(desc.Chunks).To(Equal(uint32(0)))
	})

	It("rejects a descriptor with no chunk limit", func() {
		desc := newDescriptor(4096, 0)

		err := manager.Start(desc)
		Expect(err).To(HaveOccurred())

		transferErr := &TransferError{}
		Expect(errors.As(err, &transferErr)).To(BeTrue())
		Expect(transferErr.Reason).To(Equal(ReasonChunkMismatch))
	})
})
