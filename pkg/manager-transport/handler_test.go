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

package transport_test

import (
	"errors"

	"github.com/go-logr/logr"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/NearNodeFlash/nnf-bridge/internal/mockdevice"
	"github.com/NearNodeFlash/nnf-bridge/pkg/api"
	transport "github.com/NearNodeFlash/nnf-bridge/pkg/manager-transport"
)

var _ = Describe("Transport Handler", func() {

	var device *mockdevice.Device
	var handler *transport.Handler

	BeforeEach(func() {
		device = mockdevice.NewDevice(mockdevice.NewDefaultOptions())
		handler = transport.NewHandler(device, logr.Discard())
	})

	Describe("receiving command block wrappers", func() {

		It("decodes the wrapper staged by the host", func() {
			cdb := []byte{0x28, 0, 0, 0, 0, 100, 0, 0, 8, 0}
			device.HostSubmitCommand(mockdevice.BuildCBW(42, 4096, true, 3, cdb), nil)

			Expect(device.PollInterruptFlags().Has(api.FlagCbwReady)).To(BeTrue())

			cmd, err := handler.ReadCBW()
			Expect(err).NotTo(HaveOccurred())

			Expect(cmd.Tag).To(Equal(uint32(42)))
			Expect(cmd.TransferLength).To(Equal(uint32(4096)))
			Expect(cmd.DirectionIn).To(BeTrue())
			Expect(cmd.LUN).To(Equal(uint8(3)))
			Expect(cmd.CommandBlock).To(Equal(cdb))

			// Acknowledging the arrival flag is the dispatcher's job.
			Expect(device.PollInterruptFlags().Has(api.FlagCbwReady)).To(BeTrue())
		})

		It("rejects a wrapper with a short wire length", func() {
			cbw := mockdevice.BuildCBW(42, 0, false, 0, []byte{0x00, 0, 0, 0, 0, 0})
			device.HostSubmitCommand(cbw[:20], nil)

			_, err := handler.ReadCBW()

			protocolErr := &transport.ProtocolError{}
			Expect(errors.As(err, &protocolErr)).To(BeTrue())
			Expect(protocolErr.Reason).To(Equal(transport.ReasonBadLength))
			Expect(protocolErr.Length).To(Equal(20))
		})

		It("rejects a wrapper with a corrupted signature", func() {
			cbw := mockdevice.BuildCBW(42, 0, false, 0, []byte{0x00, 0, 0, 0, 0, 0})
			cbw[0] = 'X'
			device.HostSubmitCommand(cbw, nil)

			_, err := handler.ReadCBW()

			protocolErr := &transport.ProtocolError{}
			Expect(errors.As(err, &protocolErr)).To(BeTrue())
			Expect(protocolErr.Reason).To(Equal(transport.ReasonBadSignature))
		})
	})

	Describe("sending command status wrappers", func() {

		It("stages the wrapper and strobes the send", func() {
			handler.SendCSW(42, 13, transport.StatusFailed)

			csw, ok := device.HostCollectCSW()
			Expect(ok).To(BeTrue())
			Expect(csw).To(Equal(transport.BuildCSW(42, 13, transport.StatusFailed)))

			_, ok = device.HostCollectCSW()
			Expect(ok).To(BeFalse())
		})

		It("delivers wrappers in transmission order", func() {
			handler.SendCSW(1, 0, transport.StatusGood)
			handler.SendCSW(2, 512, transport.StatusPhaseError)

			csw, ok := device.HostCollectCSW()
			Expect(ok).To(BeTrue())
			Expect(csw[4]).To(Equal(uint8(1)))
			Expect(csw[12]).To(Equal(uint8(transport.StatusGood)))

			csw, ok = device.HostCollectCSW()
			Expect(ok).To(BeTrue())
			Expect(csw[4]).To(Equal(uint8(2)))
			Expect(csw[12]).To(Equal(uint8(transport.StatusPhaseError)))
		})
	})
})
