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
	"encoding/binary"

	"github.com/go-logr/logr"

	"github.com/NearNodeFlash/nnf-bridge/pkg/api"
	command "github.com/NearNodeFlash/nnf-bridge/pkg/manager-command"
	nvme "github.com/NearNodeFlash/nnf-bridge/pkg/manager-nvme"
	transport "github.com/NearNodeFlash/nnf-bridge/pkg/manager-transport"
)

// MaxLogicalUnits is bounded by the 4-bit LUN field of the command block
// wrapper.
const MaxLogicalUnits = 16

// RequestKind tells the dispatcher how a translated command is serviced.
type RequestKind int

const (
	// KindLocalStatus completes immediately with a status wrapper and no
	// data phase.
	KindLocalStatus RequestKind = iota

	// KindLocalData answers from bridge-built response bytes; the data
	// phase runs without touching the device.
	KindLocalData

	// KindNvme forwards to the device as a submission queue entry.
	KindNvme
)

// Request is the device-neutral form of one translated command. For
// KindNvme requests the Opcode, NamespaceID, LBA and Blocks fields carry
// the submission queue entry parameters; DataLength is the exact byte
// count the device side of the data phase moves.
type Request struct {
	Kind      RequestKind
	Direction command.Direction

	// Data holds the response bytes for KindLocalData, already clamped to
	// the host's allocation length.
	Data []byte

	Opcode      uint8
	NamespaceID uint32
	LBA         uint64
	Blocks      uint32
	DataLength  uint32
}

// LogicalUnit describes one exported unit, backed by a device namespace.
// Geometry comes from IDENTIFY NAMESPACE during initialization; the
// write-protect and removable attributes come from configuration.
type LogicalUnit struct {
	NamespaceID    uint32
	BlockSize      uint32
	BlockCount     uint64
	TransferMode   uint8
	WriteProtected bool
	Removable      bool

	ready bool
	sense SenseData
}

// Ready reports whether media access commands are currently allowed.
func (u *LogicalUnit) Ready() bool { return u.ready }

// Translator owns the logical unit table and turns validated command
// block wrappers into requests the dispatcher can service. It is not
// safe for concurrent use; the dispatch loop is its only caller.
type Translator struct {
	device api.DeviceController

	units [MaxLogicalUnits]*LogicalUnit

	vendor   string
	product  string
	revision string
	serial   string

	log logr.Logger
}

func NewTranslator(device api.DeviceController, log logr.Logger) *Translator {
	return &Translator{
		device:   device,
		vendor:   "HPE",
		product:  "NVMe Bridge",
		revision: "1.00",
		log:      log.WithName("scsi"),
	}
}

// SetIdentity installs the identification strings reported through
// INQUIRY. Values longer than the inquiry fields are truncated there.
func (t *Translator) SetIdentity(vendor, product, revision, serial string) {
	t.vendor = vendor
	t.product = product
	t.revision = revision
	t.serial = serial
}

// ConfigureUnit installs a logical unit and programs its endpoint
// transfer mode register. The unit comes up ready.
func (t *Translator) ConfigureUnit(lun uint8, unit LogicalUnit) error {
	if lun >= MaxLogicalUnits {
		return NewUnsupportedLunError(lun, 0)
	}
	if unit.BlockSize == 0 || unit.BlockCount == 0 {
		return NewInvalidFieldError(0)
	}

	unit.ready = true
	t.units[lun] = &unit

	t.device.WriteRegister(api.RegEndpointModeBase+uint32(lun), unit.TransferMode)

	t.log.Info("Configured logical unit", "lun", lun, "namespace", unit.NamespaceID,
		"blockSize", unit.BlockSize, "blockCount", unit.BlockCount)

	return nil
}

// Unit returns the logical unit at lun, nil when unconfigured.
func (t *Translator) Unit(lun uint8) *LogicalUnit {
	if lun >= MaxLogicalUnits {
		return nil
	}
	return t.units[lun]
}

// SetSense deposits sense data on a unit for the next REQUEST SENSE.
// A lun with no unit behind it drops the sense silently.
func (t *Translator) SetSense(lun uint8, sense SenseData) {
	if unit := t.Unit(lun); unit != nil {
		unit.sense = sense
	}
}

func (t *Translator) configuredLuns() []uint8 {
	luns := []uint8{}
	for lun, unit := range t.units {
		if unit != nil {
			luns = append(luns, uint8(lun))
		}
	}
	return luns
}

// Translate decodes the command block of a validated wrapper into a
// Request. Failures return a CommandError carrying the sense data the
// dispatcher deposits on the unit, or a transport phase mismatch when
// the wrapper's direction bit contradicts the command.
func (t *Translator) Translate(cmd *transport.ParsedCommand) (*Request, error) {
	cdb := cmd.CommandBlock
	opcode := cdb[0]

	log := t.log.V(2).WithValues("opcode", opcode, "lun", cmd.LUN, "tag", cmd.Tag)
	log.Info("Translating command")

	// REPORT LUNS is served from the unit table itself and must work
	// before any unit is addressed.
	if opcode == ReportLuns {
		return t.reportLuns(cmd)
	}

	unit := t.Unit(cmd.LUN)
	if unit == nil {
		return nil, NewUnsupportedLunError(cmd.LUN, opcode)
	}

	var req *Request
	var err error

	switch opcode {
	case TestUnitReady:
		req, err = t.testUnitReady(unit)
	case RequestSense:
		req, err = t.requestSense(unit, cdb)
	case Inquiry:
		req, err = t.inquiry(unit, cdb)
	case ModeSense6:
		req, err = t.modeSense(unit, cdb, false)
	case ModeSense10:
		req, err = t.modeSense(unit, cdb, true)
	case StartStopUnit:
		req, err = t.startStopUnit(unit, cdb)
	case PreventAllowMediumRemoval:
		req, err = localStatus(), nil
	case ReadFormatCapacities:
		req, err = t.readFormatCapacities(unit, cdb)
	case ReadCapacity10:
		req, err = t.readCapacity10(unit)
	case ServiceActionIn16:
		req, err = t.serviceActionIn16(unit, cdb)
	case Read10:
		req, err = t.read(unit, cdb, false)
	case Read16:
		req, err = t.read(unit, cdb, true)
	case Write10:
		req, err = t.write(unit, cdb, false)
	case Write16:
		req, err = t.write(unit, cdb, true)
	case Verify10:
		req, err = t.verify(unit, cdb)
	case SynchronizeCache10:
		req, err = t.synchronizeCache(unit)
	default:
		return nil, NewUnsupportedCommandError(opcode)
	}

	if err != nil {
		return nil, err
	}

	// The wrapper's direction bit is meaningful only when the host
	// expects a data phase; a contradiction is a phase error, not a
	// check condition.
	if cmd.TransferLength > 0 {
		switch req.Direction {
		case command.DirectionRead:
			if !cmd.DirectionIn {
				return nil, transport.NewPhaseMismatchError()
			}
		case command.DirectionWrite:
			if cmd.DirectionIn {
				return nil, transport.NewPhaseMismatchError()
			}
		}
	}

	return req, nil
}

func localStatus() *Request {
	return &Request{Kind: KindLocalStatus, Direction: command.DirectionNone}
}

func localData(data []byte) *Request {
	return &Request{
		Kind:       KindLocalData,
		Direction:  command.DirectionRead,
		Data:       data,
		DataLength: uint32(len(data)),
	}
}

func requireLength(opcode uint8, cdb []byte, length int) error {
	if len(cdb) < length {
		return NewInvalidFieldError(opcode)
	}
	return nil
}

func (t *Translator) testUnitReady(unit *LogicalUnit) (*Request, error) {
	if !unit.ready {
		return nil, NewNotReadyError(TestUnitReady)
	}
	return localStatus(), nil
}

func (t *Translator) requestSense(unit *LogicalUnit, cdb []byte) (*Request, error) {
	if err := requireLength(RequestSense, cdb, 6); err != nil {
		return nil, err
	}

	data := unit.sense.FixedFormat()
	unit.sense = SenseData{}

	return localData(clampResponse(data, uint32(cdb[4]))), nil
}

func (t *Translator) inquiry(unit *LogicalUnit, cdb []byte) (*Request, error) {
	if err := requireLength(Inquiry, cdb, 6); err != nil {
		return nil, err
	}

	allocation := uint32(binary.BigEndian.Uint16(cdb[3:5]))

	if cdb[1]&0x01 != 0 {
		// Vital product data request.
		switch cdb[2] {
		case VpdPageSupportedPages:
			return localData(clampResponse(supportedVpdPages(), allocation)), nil
		case VpdPageUnitSerialNumber:
			return localData(clampResponse(unitSerialNumberPage(t.serial), allocation)), nil
		}
		return nil, NewInvalidFieldError(Inquiry)
	}

	if cdb[2] != 0 {
		// Page code without EVPD.
		return nil, NewInvalidFieldError(Inquiry)
	}

	data := standardInquiryData(unit, t.vendor, t.product, t.revision)
	return localData(clampResponse(data, allocation)), nil
}

func (t *Translator) modeSense(unit *LogicalUnit, cdb []byte, extended bool) (*Request, error) {
	if extended {
		if err := requireLength(ModeSense10, cdb, 10); err != nil {
			return nil, err
		}
		allocation := uint32(binary.BigEndian.Uint16(cdb[7:9]))
		return localData(clampResponse(modeSense10Data(unit), allocation)), nil
	}

	if err := requireLength(ModeSense6, cdb, 6); err != nil {
		return nil, err
	}
	return localData(clampResponse(modeSense6Data(unit), uint32(cdb[4]))), nil
}

func (t *Translator) startStopUnit(unit *LogicalUnit, cdb []byte) (*Request, error) {
	if err := requireLength(StartStopUnit, cdb, 6); err != nil {
		return nil, err
	}

	unit.ready = cdb[4]&0x01 != 0
	t.log.V(1).Info("Start stop unit", "namespace", unit.NamespaceID, "ready", unit.ready)

	return localStatus(), nil
}

func (t *Translator) readFormatCapacities(unit *LogicalUnit, cdb []byte) (*Request, error) {
	if err := requireLength(ReadFormatCapacities, cdb, 10); err != nil {
		return nil, err
	}
	if !unit.ready {
		return nil, NewNotReadyError(ReadFormatCapacities)
	}

	allocation := uint32(binary.BigEndian.Uint16(cdb[7:9]))
	return localData(clampResponse(readFormatCapacitiesData(unit), allocation)), nil
}

func (t *Translator) readCapacity10(unit *LogicalUnit) (*Request, error) {
	if !unit.ready {
		return nil, NewNotReadyError(ReadCapacity10)
	}
	return localData(readCapacity10Data(unit)), nil
}

func (t *Translator) serviceActionIn16(unit *LogicalUnit, cdb []byte) (*Request, error) {
	if err := requireLength(ServiceActionIn16, cdb, 16); err != nil {
		return nil, err
	}
	if cdb[1]&0x1F != ServiceActionReadCapacity16 {
		return nil, NewUnsupportedCommandError(ServiceActionIn16)
	}
	if !unit.ready {
		return nil, NewNotReadyError(ServiceActionIn16)
	}

	allocation := binary.BigEndian.Uint32(cdb[10:14])
	return localData(clampResponse(readCapacity16Data(unit), allocation)), nil
}

func (t *Translator) reportLuns(cmd *transport.ParsedCommand) (*Request, error) {
	if err := requireLength(ReportLuns, cmd.CommandBlock, 12); err != nil {
		return nil, err
	}

	allocation := binary.BigEndian.Uint32(cmd.CommandBlock[6:10])
	return localData(clampResponse(reportLunsData(t.configuredLuns()), allocation)), nil
}

func (t *Translator) read(unit *LogicalUnit, cdb []byte, extended bool) (*Request, error) {
	lba, blocks, err := transferRange(Read10, Read16, cdb, extended)
	if err != nil {
		return nil, err
	}
	if !unit.ready {
		return nil, NewNotReadyError(cdb[0])
	}
	if blocks == 0 {
		return localStatus(), nil
	}
	if err := checkRange(unit, cdb[0], lba, blocks); err != nil {
		return nil, err
	}

	return &Request{
		Kind:        KindNvme,
		Direction:   command.DirectionRead,
		Opcode:      nvme.ReadOpcode,
		NamespaceID: unit.NamespaceID,
		LBA:         lba,
		Blocks:      blocks,
		DataLength:  blocks * unit.BlockSize,
	}, nil
}

func (t *Translator) write(unit *LogicalUnit, cdb []byte, extended bool) (*Request, error) {
	lba, blocks, err := transferRange(Write10, Write16, cdb, extended)
	if err != nil {
		return nil, err
	}
	if !unit.ready {
		return nil, NewNotReadyError(cdb[0])
	}
	if unit.WriteProtected {
		return nil, NewWriteProtectedError(cdb[0])
	}
	if blocks == 0 {
		return localStatus(), nil
	}
	if err := checkRange(unit, cdb[0], lba, blocks); err != nil {
		return nil, err
	}

	return &Request{
		Kind:        KindNvme,
		Direction:   command.DirectionWrite,
		Opcode:      nvme.WriteOpcode,
		NamespaceID: unit.NamespaceID,
		LBA:         lba,
		Blocks:      blocks,
		DataLength:  blocks * unit.BlockSize,
	}, nil
}

func (t *Translator) verify(unit *LogicalUnit, cdb []byte) (*Request, error) {
	if err := requireLength(Verify10, cdb, 10); err != nil {
		return nil, err
	}
	if !unit.ready {
		return nil, NewNotReadyError(Verify10)
	}

	lba := uint64(binary.BigEndian.Uint32(cdb[2:6]))
	blocks := uint32(binary.BigEndian.Uint16(cdb[7:9]))
	if blocks == 0 {
		return localStatus(), nil
	}
	if err := checkRange(unit, Verify10, lba, blocks); err != nil {
		return nil, err
	}

	// Medium verification is a no-op; the device surface has no
	// unchecked path to exercise.
	return localStatus(), nil
}

func (t *Translator) synchronizeCache(unit *LogicalUnit) (*Request, error) {
	if !unit.ready {
		return nil, NewNotReadyError(SynchronizeCache10)
	}

	return &Request{
		Kind:        KindNvme,
		Direction:   command.DirectionNone,
		Opcode:      nvme.FlushOpcode,
		NamespaceID: unit.NamespaceID,
	}, nil
}

// transferRange decodes the LBA and block count of a 10- or 16-byte
// read or write command block.
func transferRange(opcode10, opcode16 uint8, cdb []byte, extended bool) (uint64, uint32, error) {
	if extended {
		if err := requireLength(opcode16, cdb, 16); err != nil {
			return 0, 0, err
		}
		return binary.BigEndian.Uint64(cdb[2:10]), binary.BigEndian.Uint32(cdb[10:14]), nil
	}

	if err := requireLength(opcode10, cdb, 10); err != nil {
		return 0, 0, err
	}
	return uint64(binary.BigEndian.Uint32(cdb[2:6])), uint32(binary.BigEndian.Uint16(cdb[7:9])), nil
}

func checkRange(unit *LogicalUnit, opcode uint8, lba uint64, blocks uint32) error {
	if lba >= unit.BlockCount || uint64(blocks) > unit.BlockCount-lba {
		return NewLbaOutOfRangeError(opcode, lba)
	}
	return nil
}
