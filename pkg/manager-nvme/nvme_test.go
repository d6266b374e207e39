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

package nvme_test

import (
	"encoding/binary"
	"errors"

	"github.com/go-logr/logr"
	"k8s.io/utils/clock"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/NearNodeFlash/nnf-bridge/internal/mockdevice"
	"github.com/NearNodeFlash/nnf-bridge/pkg/api"
	"github.com/NearNodeFlash/nnf-bridge/pkg/common"
	nvme "github.com/NearNodeFlash/nnf-bridge/pkg/manager-nvme"
)

var _ = Describe("NVMe Manager", func() {

	var opts *mockdevice.Options
	var device *mockdevice.Device
	var manager *nvme.Manager

	BeforeEach(func() {
		opts = mockdevice.NewDefaultOptions()
	})

	JustBeforeEach(func() {
		device = mockdevice.NewDevice(opts)
		manager = nvme.NewManager(device, clock.RealClock{}, nvme.NewDefaultTestOptions(), logr.Discard())
	})

	Describe("initialization", func() {

		Context("with two namespaces attached", func() {
			BeforeEach(func() {
				opts.Namespaces = append(opts.Namespaces,
					mockdevice.NamespaceOptions{BlockSize: 4096, BlockCount: 2048})
			})

			It("caches controller identity and namespace geometry", func() {
				Expect(manager.Initialize(2)).To(Succeed())

				controller := manager.Controller()
				Expect(controller.Model()).To(Equal(opts.Model))
				Expect(controller.Serial()).To(Equal(device.Serial()))
				Expect(controller.Firmware()).To(Equal(opts.Firmware))
				Expect(controller.NamespaceCount).To(Equal(uint32(2)))

				ns, ok := manager.Namespace(1)
				Expect(ok).To(BeTrue())
				Expect(ns.BlockSize).To(Equal(uint32(512)))
				Expect(ns.BlockCount).To(Equal(uint64(8192)))

				ns, ok = manager.Namespace(2)
				Expect(ok).To(BeTrue())
				Expect(ns.BlockSize).To(Equal(uint32(4096)))
				Expect(ns.BlockCount).To(Equal(uint64(2048)))

				_, ok = manager.Namespace(3)
				Expect(ok).To(BeFalse())
			})
		})

		Context("with a controller that is slow to come ready", func() {
			BeforeEach(func() {
				opts.ReadyDelay = 3
			})

			It("waits out the enable handshake", func() {
				Expect(manager.Initialize(1)).To(Succeed())
			})
		})

		Context("with a controller that never comes ready", func() {
			BeforeEach(func() {
				opts.ReadyDelay = 1000
			})

			It("fails with a bounded timeout", func() {
				err := manager.Initialize(1)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("controller not ready"))

				timeoutErr := &common.TimeoutError{}
				Expect(errors.As(err, &timeoutErr)).To(BeTrue())
			})
		})

		It("caps the namespace scan at the controller's count", func() {
			Expect(manager.Initialize(5)).To(Succeed())

			_, ok := manager.Namespace(1)
			Expect(ok).To(BeTrue())

			_, ok = manager.Namespace(2)
			Expect(ok).To(BeFalse())
		})
	})

	Describe("the I/O queue pair", func() {

		JustBeforeEach(func() {
			Expect(manager.Initialize(1)).To(Succeed())
		})

		It("round-trips commands through several queue wraparounds", func() {
			for i := 0; i < 100; i++ {
				err := manager.Submit(nvme.IORequest{
					CorrelationID: uint16(i),
					Opcode:        nvme.FlushOpcode,
					NamespaceID:   1,
				})
				Expect(err).NotTo(HaveOccurred())

				completions := manager.DrainCompletions()
				Expect(completions).To(HaveLen(1))
				Expect(completions[0].CommandID).To(Equal(uint16(i)))
				Expect(completions[0].StatusCode()).To(Equal(nvme.StatusSuccess))
				Expect(manager.Outstanding()).To(BeZero())
			}
		})

		It("reads namespace blocks into the data window", func() {
			pattern := make([]byte, 1024)
			for i := range pattern {
				pattern[i] = byte(i * 7)
			}
			device.FillNamespace(1, 4, pattern)

			err := manager.Submit(nvme.IORequest{
				CorrelationID: 7,
				Opcode:        nvme.ReadOpcode,
				NamespaceID:   1,
				LBA:           4,
				Blocks:        2,
				DataAddress:   api.NvmeDataBase,
			})
			Expect(err).NotTo(HaveOccurred())

			completions := manager.DrainCompletions()
			Expect(completions).To(HaveLen(1))
			Expect(completions[0].StatusCode()).To(Equal(nvme.StatusSuccess))

			window := make([]byte, len(pattern))
			device.ReadBuffer(api.NvmeDataBase, window)
			Expect(window).To(Equal(pattern))
		})

		It("writes the data window out to namespace blocks", func() {
			pattern := make([]byte, 1024)
			for i := range pattern {
				pattern[i] = byte(255 - i)
			}
			device.WriteBuffer(api.NvmeDataBase, pattern)

			err := manager.Submit(nvme.IORequest{
				CorrelationID: 9,
				Opcode:        nvme.WriteOpcode,
				NamespaceID:   1,
				LBA:           9,
				Blocks:        2,
				DataAddress:   api.NvmeDataBase,
			})
			Expect(err).NotTo(HaveOccurred())

			completions := manager.DrainCompletions()
			Expect(completions).To(HaveLen(1))
			Expect(completions[0].StatusCode()).To(Equal(nvme.StatusSuccess))

			Expect(device.NamespaceData(1, 9, 2)).To(Equal(pattern))
		})

		It("surfaces device status codes in the completion", func() {
			err := manager.Submit(nvme.IORequest{
				CorrelationID: 11,
				Opcode:        nvme.ReadOpcode,
				NamespaceID:   1,
				LBA:           8192,
				Blocks:        1,
				DataAddress:   api.NvmeDataBase,
			})
			Expect(err).NotTo(HaveOccurred())

			completions := manager.DrainCompletions()
			Expect(completions).To(HaveLen(1))
			Expect(completions[0].StatusCode()).To(Equal(nvme.StatusLbaOutOfRange))
		})

		It("rejects submissions past the queue's capacity", func() {
			for i := 0; i < nvme.QueueDepth-1; i++ {
				err := manager.Submit(nvme.IORequest{
					CorrelationID: uint16(i),
					Opcode:        nvme.FlushOpcode,
					NamespaceID:   1,
				})
				Expect(err).NotTo(HaveOccurred())
			}
			Expect(manager.Outstanding()).To(Equal(nvme.QueueDepth - 1))

			err := manager.Submit(nvme.IORequest{
				CorrelationID: nvme.QueueDepth - 1,
				Opcode:        nvme.FlushOpcode,
				NamespaceID:   1,
			})

			fullErr := &nvme.QueueFullError{}
			Expect(errors.As(err, &fullErr)).To(BeTrue())

			// Draining releases the backlog in one bounded pass.
			completions := manager.DrainCompletions()
			Expect(completions).To(HaveLen(nvme.QueueDepth - 1))
			Expect(manager.Outstanding()).To(BeZero())

			err = manager.Submit(nvme.IORequest{
				CorrelationID: nvme.QueueDepth - 1,
				Opcode:        nvme.FlushOpcode,
				NamespaceID:   1,
			})
			Expect(err).NotTo(HaveOccurred())
		})

		It("delivers a duplicated completion twice", func() {
			device.DuplicateNextCompletion()

			err := manager.Submit(nvme.IORequest{
				CorrelationID: 3,
				Opcode:        nvme.FlushOpcode,
				NamespaceID:   1,
			})
			Expect(err).NotTo(HaveOccurred())

			// Discarding the echo is the dispatcher's job; the queue hands
			// up everything the phase tag admits.
			completions := manager.DrainCompletions()
			Expect(completions).To(HaveLen(2))
			Expect(completions[0].CommandID).To(Equal(uint16(3)))
			Expect(completions[1].CommandID).To(Equal(uint16(3)))
			Expect(manager.Outstanding()).To(BeZero())
		})

		It("keeps a lost completion from stalling the drain", func() {
			device.DropCompletions(1)

			err := manager.Submit(nvme.IORequest{
				CorrelationID: 5,
				Opcode:        nvme.FlushOpcode,
				NamespaceID:   1,
			})
			Expect(err).NotTo(HaveOccurred())

			Expect(manager.DrainCompletions()).To(BeEmpty())
			Expect(manager.Outstanding()).To(Equal(1))
		})

		It("bounds one drain pass at the queue depth", func() {
			// A completion ring where every entry carries the expected
			// phase tag, as a faulted device could produce.
			for i := uint32(0); i < nvme.QueueDepth; i++ {
				raw := make([]byte, nvme.CompletionEntrySize)
				binary.LittleEndian.PutUint16(raw[14:], 1)
				device.WriteBuffer(api.IoCQBase+i*nvme.CompletionEntrySize, raw)
			}

			Expect(manager.DrainCompletions()).To(HaveLen(nvme.QueueDepth))

			// The wraparound flipped the expected phase; the stale ring no
			// longer matches.
			Expect(manager.DrainCompletions()).To(BeEmpty())
		})
	})
})
