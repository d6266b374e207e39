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

// Package mockdevice is a functional software model of the bridge device:
// the register file, buffer RAM, an NVMe engine that executes submission
// entries on in-memory namespaces, the chunked transfer engine, and the
// USB host side of the link. It stands in for hardware in package tests
// and behind the simulator binary. Doorbell writes execute synchronously,
// so a test observes every effect of a register write on return.
package mockdevice

import (
	"math/bits"
	"sync"

	"github.com/google/uuid"

	"github.com/NearNodeFlash/nnf-bridge/pkg/api"
	transport "github.com/NearNodeFlash/nnf-bridge/pkg/manager-transport"
)

// NamespaceOptions sizes one in-memory namespace. BlockSize must be a
// power of two.
type NamespaceOptions struct {
	BlockSize  uint32
	BlockCount uint64
}

// Options configure the modelled device.
type Options struct {
	Model    string
	Firmware string

	Namespaces []NamespaceOptions

	// ReadyDelay is the number of controller status reads that report
	// not-ready after enable; initialization wait paths exercise it.
	ReadyDelay int

	// DMABusyPolls is the number of busy indications the transfer engine
	// gives per chunk before the copy lands. Zero completes a chunk on
	// the first poll.
	DMABusyPolls int
}

func NewDefaultOptions() *Options {
	return &Options{
		Model:    "MOCK NVMe BRIDGE DEVICE",
		Firmware: "1.0",
		Namespaces: []NamespaceOptions{
			{BlockSize: 512, BlockCount: 8192},
		},
	}
}

// namespaceModel holds the content of one namespace.
type namespaceModel struct {
	id         uint32
	blockSize  uint32
	blockCount uint64
	data       []byte
}

// deviceQueue is the device side of one queue pair: it consumes entries
// at the submission head and produces completions at the completion tail,
// inverting the phase tag on every pass through the ring.
type deviceQueue struct {
	id     uint16
	depth  uint16
	sqBase uint32
	cqBase uint32
	sqHead uint16
	cqTail uint16
	phase  uint8
}

// completionQueue is a completion ring created but not yet bound to a
// submission queue.
type completionQueue struct {
	base  uint32
	depth uint16
}

type dmaTransfer struct {
	source      uint32
	destination uint32
	length      uint32
	busyLeft    int
}

type faultState struct {
	dropCompletions     int
	duplicateCompletion bool
	failArmed           bool
	failStatus          uint16
}

// Device implements api.DeviceController over an in-memory model. All
// methods are safe for concurrent use; the simulator drives the host side
// from a separate goroutine.
type Device struct {
	mu sync.Mutex

	model    string
	serial   string
	firmware string

	registers map[uint32]uint8
	buffer    []byte

	flags api.FlagSet

	linkUp        bool
	linkDownPolls int

	enabled    bool
	readyDelay int

	namespaces map[uint32]*namespaceModel

	queues             map[uint16]*deviceQueue
	pendingCompletions map[uint16]*completionQueue

	dmaPending   *dmaTransfer
	dmaBusyPolls int
	dmaWedged    bool

	cswLog [][]byte

	faults faultState
}

// NewDevice builds a device with namespaces numbered from 1 in the order
// configured. The serial number is derived deterministically from the
// model string so repeated runs identify identically.
func NewDevice(opts *Options) *Device {
	d := &Device{
		model:     opts.Model,
		serial:    uuid.NewSHA1(uuid.NameSpaceOID, []byte(opts.Model)).String()[:20],
		firmware:  opts.Firmware,
		registers: map[uint32]uint8{},
		buffer:    make([]byte, api.BufferSize),

		linkUp:     true,
		readyDelay: opts.ReadyDelay,

		namespaces:         map[uint32]*namespaceModel{},
		queues:             map[uint16]*deviceQueue{},
		pendingCompletions: map[uint16]*completionQueue{},

		dmaBusyPolls: opts.DMABusyPolls,
	}

	// The admin queue pair lives at a fixed place in the memory map; no
	// admin command creates it.
	d.queues[0] = &deviceQueue{
		id:     0,
		depth:  32,
		sqBase: api.AdminSQBase,
		cqBase: api.AdminCQBase,
		phase:  1,
	}

	for i, ns := range opts.Namespaces {
		if ns.BlockSize == 0 || bits.OnesCount32(ns.BlockSize) != 1 {
			panic("mockdevice: namespace block size must be a power of two")
		}

		id := uint32(i + 1)
		d.namespaces[id] = &namespaceModel{
			id:         id,
			blockSize:  ns.BlockSize,
			blockCount: ns.BlockCount,
			data:       make([]byte, uint64(ns.BlockSize)*ns.BlockCount),
		}
	}

	return d
}

func (d *Device) ReadRegister(address uint32) uint8 {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch address {
	case api.RegLinkStatus:
		value := uint8(api.LinkStatusPcieUp)
		if d.linkUp && d.linkDownPolls == 0 {
			value |= api.LinkStatusUsbUp
		}
		return value

	case api.RegIntStatus:
		return uint8(d.flags)

	case api.RegNvmeCSTS:
		if !d.enabled {
			return 0
		}
		if d.readyDelay > 0 {
			d.readyDelay--
			return 0
		}
		return api.NvmeCSTSReady
	}

	return d.registers[address]
}

func (d *Device) WriteRegister(address uint32, value uint8) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.registers[address] = value

	switch address {
	case api.RegIntAck:
		d.flags &^= api.FlagSet(value)

	case api.RegUsbControl:
		if value&api.UsbControlSendCsw != 0 {
			csw := make([]byte, transport.CswLength)
			copy(csw, d.buffer[api.CswBufferBase:])
			d.cswLog = append(d.cswLog, csw)
		}

	case api.RegNvmeCC:
		d.enabled = value&api.NvmeCCEnable != 0

	case api.RegAdminSQTail:
		d.processDoorbell(0, uint16(value))

	case api.RegIoSQTail:
		d.processDoorbell(1, uint16(value))
	}
}

func (d *Device) ReadBuffer(address uint32, p []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()

	copy(p, d.buffer[address:])
}

func (d *Device) WriteBuffer(address uint32, p []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()

	copy(d.buffer[address:], p)
}

func (d *Device) TriggerDMA(source, destination, length uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.dmaPending = &dmaTransfer{
		source:      source,
		destination: destination,
		length:      length,
		busyLeft:    d.dmaBusyPolls,
	}
}

// DMABusy reports the engine state; the pending copy lands on the first
// poll that observes the engine idle.
func (d *Device) DMABusy() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.dmaWedged {
		return true
	}

	t := d.dmaPending
	if t == nil {
		return false
	}

	if t.busyLeft > 0 {
		t.busyLeft--
		return true
	}

	copy(d.buffer[t.destination:t.destination+t.length], d.buffer[t.source:t.source+t.length])
	d.dmaPending = nil

	return false
}

func (d *Device) LinkUp() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.linkDownPolls > 0 {
		d.linkDownPolls--
		return false
	}

	return d.linkUp
}

func (d *Device) PollInterruptFlags() api.FlagSet {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.flags
}
