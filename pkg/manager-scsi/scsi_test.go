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

import (
	"errors"

	"github.com/go-logr/logr"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/NearNodeFlash/nnf-bridge/internal/mockdevice"
	"github.com/NearNodeFlash/nnf-bridge/pkg/api"
	command "github.com/NearNodeFlash/nnf-bridge/pkg/manager-command"
	nvme "github.com/NearNodeFlash/nnf-bridge/pkg/manager-nvme"
	transport "github.com/NearNodeFlash/nnf-bridge/pkg/manager-transport"
)

// wrapped builds the validated wrapper Translate consumes. The data phase
// direction and length mirror what the host would declare for the command.
func wrapped(lun uint8, transferLength uint32, directionIn bool, cdb ...byte) *transport.ParsedCommand {
	return &transport.ParsedCommand{
		Tag:            0x1234,
		TransferLength: transferLength,
		DirectionIn:    directionIn,
		LUN:            lun,
		CommandBlock:   cdb,
	}
}

func expectSense(err error, key, asc uint8) {
	cmdErr := &CommandError{}
	ExpectWithOffset(1, errors.As(err, &cmdErr)).To(BeTrue(), "expected a command error, got %v", err)
	ExpectWithOffset(1, cmdErr.Sense.Key).To(Equal(key))
	ExpectWithOffset(1, cmdErr.Sense.Asc).To(Equal(asc))
}

var _ = Describe("SCSI Translator", func() {

	var device *mockdevice.Device
	var translator *Translator

	BeforeEach(func() {
		device = mockdevice.NewDevice(mockdevice.NewDefaultOptions())
		translator = NewTranslator(device, logr.Discard())

		Expect(translator.ConfigureUnit(0, LogicalUnit{
			NamespaceID: 1,
			BlockSize:   512,
			BlockCount:  8192,
		})).To(Succeed())
	})

	Describe("unit configuration", func() {

		It("programs the endpoint transfer mode register", func() {
			Expect(translator.ConfigureUnit(2, LogicalUnit{
				NamespaceID:  1,
				BlockSize:    512,
				BlockCount:   8192,
				TransferMode: api.EndpointModeInterrupt,
			})).To(Succeed())

			Expect(device.ReadRegister(api.RegEndpointModeBase + 2)).To(Equal(api.EndpointModeInterrupt))
			Expect(device.ReadRegister(api.RegEndpointModeBase + 0)).To(Equal(api.EndpointModeBulk))
		})

		It("rejects a lun past the wrapper's addressing range", func() {
			err := translator.ConfigureUnit(MaxLogicalUnits, LogicalUnit{
				NamespaceID: 1, BlockSize: 512, BlockCount: 8192,
			})
			Expect(err).To(HaveOccurred())
		})

		It("rejects empty geometry", func() {
			err := translator.ConfigureUnit(1, LogicalUnit{NamespaceID: 1})
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("REPORT LUNS", func() {

		It("lists the configured units", func() {
			Expect(translator.ConfigureUnit(2, LogicalUnit{
				NamespaceID: 1, BlockSize: 512, BlockCount: 8192,
			})).To(Succeed())

			req, err := translator.Translate(wrapped(0, 64, true,
				ReportLuns, 0, 0, 0, 0, 0, 0, 0, 0, 64, 0, 0))
			Expect(err).NotTo(HaveOccurred())

			Expect(req.Kind).To(Equal(KindLocalData))
			Expect(req.Data).To(HaveLen(8 + 16))
			Expect(req.Data[:4]).To(Equal([]byte{0, 0, 0, 16}))
			Expect(req.Data[9]).To(Equal(uint8(0)))
			Expect(req.Data[17]).To(Equal(uint8(2)))
		})

		It("answers on an unconfigured lun", func() {
			req, err := translator.Translate(wrapped(5, 64, true,
				ReportLuns, 0, 0, 0, 0, 0, 0, 0, 0, 64, 0, 0))
			Expect(err).NotTo(HaveOccurred())
			Expect(req.Data).To(HaveLen(8 + 8))
		})
	})

	Describe("INQUIRY", func() {

		It("returns standard inquiry data", func() {
			req, err := translator.Translate(wrapped(0, 36, true,
				Inquiry, 0, 0, 0, 36, 0))
			Expect(err).NotTo(HaveOccurred())

			Expect(req.Kind).To(Equal(KindLocalData))
			Expect(req.Direction).To(Equal(command.DirectionRead))
			Expect(req.Data).To(HaveLen(StandardInquiryLength))

			Expect(req.Data[0]).To(Equal(uint8(0x00)))
			Expect(req.Data[2]).To(Equal(uint8(InquiryVersionSpc4)))
			Expect(req.Data[3]).To(Equal(uint8(InquiryResponseFormat)))
			Expect(req.Data[4]).To(Equal(uint8(StandardInquiryLength - 5)))

			Expect(string(req.Data[8:16])).To(Equal("HPE     "))
			Expect(string(req.Data[16:32])).To(Equal("NVMe Bridge     "))
			Expect(string(req.Data[32:36])).To(Equal("1.00"))
		})

		It("reports the removable attribute", func() {
			Expect(translator.ConfigureUnit(1, LogicalUnit{
				NamespaceID: 1, BlockSize: 512, BlockCount: 8192, Removable: true,
			})).To(Succeed())

			req, err := translator.Translate(wrapped(1, 36, true,
				Inquiry, 0, 0, 0, 36, 0))
			Expect(err).NotTo(HaveOccurred())
			Expect(req.Data[1]).To(Equal(uint8(0x80)))
		})

		It("clamps the response to the allocation length", func() {
			req, err := translator.Translate(wrapped(0, 8, true,
				Inquiry, 0, 0, 0, 8, 0))
			Expect(err).NotTo(HaveOccurred())
			Expect(req.Data).To(HaveLen(8))
		})

		It("serves the supported vital product data pages", func() {
			req, err := translator.Translate(wrapped(0, 6, true,
				Inquiry, 0x01, VpdPageSupportedPages, 0, 255, 0))
			Expect(err).NotTo(HaveOccurred())
			Expect(req.Data).To(Equal([]byte{0, 0, 0, 2, VpdPageSupportedPages, VpdPageUnitSerialNumber}))
		})

		It("serves the unit serial number page", func() {
			translator.SetIdentity("HPE", "NVMe Bridge", "1.00", "S123")

			req, err := translator.Translate(wrapped(0, 8, true,
				Inquiry, 0x01, VpdPageUnitSerialNumber, 0, 255, 0))
			Expect(err).NotTo(HaveOccurred())

			Expect(req.Data[1]).To(Equal(VpdPageUnitSerialNumber))
			Expect(req.Data[3]).To(Equal(uint8(4)))
			Expect(string(req.Data[4:])).To(Equal("S123"))
		})

		It("rejects an unknown vital product data page", func() {
			_, err := translator.Translate(wrapped(0, 8, true,
				Inquiry, 0x01, 0x83, 0, 255, 0))
			expectSense(err, SenseKeyIllegalRequest, AscInvalidFieldInCdb)
		})

		It("rejects a page code without the vital product data bit", func() {
			_, err := translator.Translate(wrapped(0, 8, true,
				Inquiry, 0, 0x80, 0, 255, 0))
			expectSense(err, SenseKeyIllegalRequest, AscInvalidFieldInCdb)
		})
	})

	Describe("capacity reporting", func() {

		It("returns READ CAPACITY(10) data", func() {
			req, err := translator.Translate(wrapped(0, 8, true,
				ReadCapacity10, 0, 0, 0, 0, 0, 0, 0, 0, 0))
			Expect(err).NotTo(HaveOccurred())

			Expect(req.Data).To(Equal([]byte{
				0x00, 0x00, 0x1F, 0xFF, // last LBA 8191
				0x00, 0x00, 0x02, 0x00, // block size 512
			}))
		})

		It("returns READ CAPACITY(16) data", func() {
			req, err := translator.Translate(wrapped(0, 32, true,
				ServiceActionIn16, ServiceActionReadCapacity16,
				0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 32, 0, 0))
			Expect(err).NotTo(HaveOccurred())

			Expect(req.Data).To(HaveLen(32))
			Expect(req.Data[:8]).To(Equal([]byte{0, 0, 0, 0, 0, 0, 0x1F, 0xFF}))
			Expect(req.Data[8:12]).To(Equal([]byte{0, 0, 0x02, 0x00}))
		})

		It("rejects an unknown service action", func() {
			_, err := translator.Translate(wrapped(0, 32, true,
				ServiceActionIn16, 0x11,
				0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 32, 0, 0))
			expectSense(err, SenseKeyIllegalRequest, AscInvalidCommandOpcode)
		})

		It("returns READ FORMAT CAPACITIES data", func() {
			req, err := translator.Translate(wrapped(0, 12, true,
				ReadFormatCapacities, 0, 0, 0, 0, 0, 0, 0, 12, 0))
			Expect(err).NotTo(HaveOccurred())

			Expect(req.Data).To(Equal([]byte{
				0, 0, 0, 8, // capacity list length
				0x00, 0x00, 0x20, 0x00, // 8192 blocks
				0x02, 0x00, 0x02, 0x00, // formatted media, block size 512
			}))
		})
	})

	Describe("MODE SENSE", func() {

		It("returns the 6-byte form", func() {
			req, err := translator.Translate(wrapped(0, 4, true,
				ModeSense6, 0, 0x3F, 0, 4, 0))
			Expect(err).NotTo(HaveOccurred())
			Expect(req.Data).To(Equal([]byte{3, 0, 0, 0}))
		})

		It("returns the 10-byte form", func() {
			req, err := translator.Translate(wrapped(0, 8, true,
				ModeSense10, 0, 0x3F, 0, 0, 0, 0, 0, 8, 0))
			Expect(err).NotTo(HaveOccurred())
			Expect(req.Data).To(Equal([]byte{0, 6, 0, 0, 0, 0, 0, 0}))
		})

		It("reports write protection", func() {
			Expect(translator.ConfigureUnit(1, LogicalUnit{
				NamespaceID: 1, BlockSize: 512, BlockCount: 8192, WriteProtected: true,
			})).To(Succeed())

			req, err := translator.Translate(wrapped(1, 4, true,
				ModeSense6, 0, 0x3F, 0, 4, 0))
			Expect(err).NotTo(HaveOccurred())
			Expect(req.Data[2]).To(Equal(uint8(0x80)))

			req, err = translator.Translate(wrapped(1, 8, true,
				ModeSense10, 0, 0x3F, 0, 0, 0, 0, 0, 8, 0))
			Expect(err).NotTo(HaveOccurred())
			Expect(req.Data[3]).To(Equal(uint8(0x80)))
		})
	})

	Describe("read and write translation", func() {

		It("translates READ(10) to a device read", func() {
			req, err := translator.Translate(wrapped(0, 4096, true,
				Read10, 0, 0, 0, 0, 100, 0, 0, 8, 0))
			Expect(err).NotTo(HaveOccurred())

			Expect(req.Kind).To(Equal(KindNvme))
			Expect(req.Direction).To(Equal(command.DirectionRead))
			Expect(req.Opcode).To(Equal(nvme.ReadOpcode))
			Expect(req.NamespaceID).To(Equal(uint32(1)))
			Expect(req.LBA).To(Equal(uint64(100)))
			Expect(req.Blocks).To(Equal(uint32(8)))
			Expect(req.DataLength).To(Equal(uint32(4096)))
		})

		It("translates WRITE(16) to a device write", func() {
			req, err := translator.Translate(wrapped(0, 1024, false,
				Write16, 0,
				0, 0, 0, 0, 0, 0, 0x1F, 0x00, // LBA 7936
				0, 0, 0, 2, // 2 blocks
				0, 0))
			Expect(err).NotTo(HaveOccurred())

			Expect(req.Kind).To(Equal(KindNvme))
			Expect(req.Direction).To(Equal(command.DirectionWrite))
			Expect(req.Opcode).To(Equal(nvme.WriteOpcode))
			Expect(req.LBA).To(Equal(uint64(7936)))
			Expect(req.Blocks).To(Equal(uint32(2)))
			Expect(req.DataLength).To(Equal(uint32(1024)))
		})

		It("completes a zero-block transfer locally", func() {
			req, err := translator.Translate(wrapped(0, 0, true,
				Read10, 0, 0, 0, 0, 100, 0, 0, 0, 0))
			Expect(err).NotTo(HaveOccurred())
			Expect(req.Kind).To(Equal(KindLocalStatus))
		})

		It("rejects a transfer past the end of the unit", func() {
			_, err := translator.Translate(wrapped(0, 512, true,
				Read10, 0, 0, 0, 0x20, 0x00, 0, 0, 1, 0))
			expectSense(err, SenseKeyIllegalRequest, AscLbaOutOfRange)
		})

		It("rejects a transfer straddling the end of the unit", func() {
			// LBA 8190 + 4 blocks runs two past the last block.
			_, err := translator.Translate(wrapped(0, 2048, true,
				Read10, 0, 0, 0, 0x1F, 0xFE, 0, 0, 4, 0))
			expectSense(err, SenseKeyIllegalRequest, AscLbaOutOfRange)
		})

		It("rejects writes to a protected unit", func() {
			Expect(translator.ConfigureUnit(1, LogicalUnit{
				NamespaceID: 1, BlockSize: 512, BlockCount: 8192, WriteProtected: true,
			})).To(Succeed())

			_, err := translator.Translate(wrapped(1, 512, false,
				Write10, 0, 0, 0, 0, 0, 0, 0, 1, 0))
			expectSense(err, SenseKeyDataProtect, AscWriteProtected)
		})

		It("rejects a truncated command block", func() {
			_, err := translator.Translate(wrapped(0, 512, true,
				Read10, 0, 0, 0, 0, 0))
			expectSense(err, SenseKeyIllegalRequest, AscInvalidFieldInCdb)
		})
	})

	Describe("data phase direction", func() {

		It("fails a read the host directed outward", func() {
			_, err := translator.Translate(wrapped(0, 4096, false,
				Read10, 0, 0, 0, 0, 100, 0, 0, 8, 0))

			protocolErr := &transport.ProtocolError{}
			Expect(errors.As(err, &protocolErr)).To(BeTrue())
			Expect(protocolErr.Reason).To(Equal(transport.ReasonPhaseMismatch))
		})

		It("fails a write the host directed inward", func() {
			_, err := translator.Translate(wrapped(0, 4096, true,
				Write10, 0, 0, 0, 0, 100, 0, 0, 8, 0))

			protocolErr := &transport.ProtocolError{}
			Expect(errors.As(err, &protocolErr)).To(BeTrue())
			Expect(protocolErr.Reason).To(Equal(transport.ReasonPhaseMismatch))
		})

		It("skips the check when no data phase was declared", func() {
			_, err := translator.Translate(wrapped(0, 0, false,
				Read10, 0, 0, 0, 0, 100, 0, 0, 8, 0))
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Describe("sense state", func() {

		It("returns and clears deposited sense data", func() {
			translator.SetSense(0, SenseData{Key: SenseKeyIllegalRequest, Asc: AscInvalidCommandOpcode})

			req, err := translator.Translate(wrapped(0, 18, true,
				RequestSense, 0, 0, 0, 18, 0))
			Expect(err).NotTo(HaveOccurred())

			Expect(req.Data).To(HaveLen(SenseResponseLength))
			Expect(req.Data[0]).To(Equal(uint8(0x70)))
			Expect(req.Data[2]).To(Equal(SenseKeyIllegalRequest))
			Expect(req.Data[7]).To(Equal(uint8(SenseResponseLength - 8)))
			Expect(req.Data[12]).To(Equal(AscInvalidCommandOpcode))

			// One-shot; the next request reports no sense.
			req, err = translator.Translate(wrapped(0, 18, true,
				RequestSense, 0, 0, 0, 18, 0))
			Expect(err).NotTo(HaveOccurred())
			Expect(req.Data[2]).To(Equal(SenseKeyNoSense))
			Expect(req.Data[12]).To(Equal(AscNone))
		})

		It("clamps the sense response to the allocation length", func() {
			req, err := translator.Translate(wrapped(0, 8, true,
				RequestSense, 0, 0, 0, 8, 0))
			Expect(err).NotTo(HaveOccurred())
			Expect(req.Data).To(HaveLen(8))
		})
	})

	Describe("unit readiness", func() {

		stop := func() {
			req, err := translator.Translate(wrapped(0, 0, false,
				StartStopUnit, 0, 0, 0, 0x00, 0))
			Expect(err).NotTo(HaveOccurred())
			Expect(req.Kind).To(Equal(KindLocalStatus))
		}

		It("answers TEST UNIT READY by unit state", func() {
			req, err := translator.Translate(wrapped(0, 0, false,
				TestUnitReady, 0, 0, 0, 0, 0))
			Expect(err).NotTo(HaveOccurred())
			Expect(req.Kind).To(Equal(KindLocalStatus))

			stop()

			_, err = translator.Translate(wrapped(0, 0, false,
				TestUnitReady, 0, 0, 0, 0, 0))
			expectSense(err, SenseKeyNotReady, AscLogicalUnitNotReady)
		})

		It("gates media access on a stopped unit", func() {
			stop()

			_, err := translator.Translate(wrapped(0, 512, true,
				Read10, 0, 0, 0, 0, 0, 0, 0, 1, 0))
			expectSense(err, SenseKeyNotReady, AscLogicalUnitNotReady)

			_, err = translator.Translate(wrapped(0, 8, true,
				ReadCapacity10, 0, 0, 0, 0, 0, 0, 0, 0, 0))
			expectSense(err, SenseKeyNotReady, AscLogicalUnitNotReady)
		})

		It("restores access when the unit is started", func() {
			stop()

			req, err := translator.Translate(wrapped(0, 0, false,
				StartStopUnit, 0, 0, 0, 0x01, 0))
			Expect(err).NotTo(HaveOccurred())
			Expect(req.Kind).To(Equal(KindLocalStatus))

			Expect(translator.Unit(0).Ready()).To(BeTrue())
		})
	})

	Describe("remaining commands", func() {

		It("verifies a valid range locally", func() {
			req, err := translator.Translate(wrapped(0, 0, false,
				Verify10, 0, 0, 0, 0, 100, 0, 0, 8, 0))
			Expect(err).NotTo(HaveOccurred())
			Expect(req.Kind).To(Equal(KindLocalStatus))

			_, err = translator.Translate(wrapped(0, 0, false,
				Verify10, 0, 0, 0, 0x20, 0x00, 0, 0, 1, 0))
			expectSense(err, SenseKeyIllegalRequest, AscLbaOutOfRange)
		})

		It("translates SYNCHRONIZE CACHE to a device flush", func() {
			req, err := translator.Translate(wrapped(0, 0, false,
				SynchronizeCache10, 0, 0, 0, 0, 0, 0, 0, 0, 0))
			Expect(err).NotTo(HaveOccurred())

			Expect(req.Kind).To(Equal(KindNvme))
			Expect(req.Direction).To(Equal(command.DirectionNone))
			Expect(req.Opcode).To(Equal(nvme.FlushOpcode))
			Expect(req.NamespaceID).To(Equal(uint32(1)))
		})

		It("acknowledges PREVENT ALLOW MEDIUM REMOVAL", func() {
			req, err := translator.Translate(wrapped(0, 0, false,
				PreventAllowMediumRemoval, 0, 0, 0, 1, 0))
			Expect(err).NotTo(HaveOccurred())
			Expect(req.Kind).To(Equal(KindLocalStatus))
		})

		It("rejects an unknown operation code", func() {
			_, err := translator.Translate(wrapped(0, 0, false,
				0xFF, 0, 0, 0, 0, 0))
			expectSense(err, SenseKeyIllegalRequest, AscInvalidCommandOpcode)
		})

		It("rejects an unconfigured lun", func() {
			_, err := translator.Translate(wrapped(7, 0, false,
				TestUnitReady, 0, 0, 0, 0, 0))

			cmdErr := &CommandError{}
			Expect(errors.As(err, &cmdErr)).To(BeTrue())
			Expect(cmdErr.LUN).To(Equal(uint8(7)))
			Expect(cmdErr.Sense.Asc).To(Equal(AscLogicalUnitNotSupported))
		})
	})
})
