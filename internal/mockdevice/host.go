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

package mockdevice

import (
	"encoding/binary"

	"github.com/NearNodeFlash/nnf-bridge/pkg/api"
	transport "github.com/NearNodeFlash/nnf-bridge/pkg/manager-transport"
)

// BuildCBW encodes a command block wrapper the way the USB host stack
// would put it on the wire.
func BuildCBW(tag, transferLength uint32, directionIn bool, lun uint8, cdb []byte) []byte {
	cbw := make([]byte, transport.CbwLength)

	binary.LittleEndian.PutUint32(cbw[0:], transport.CbwSignature)
	binary.LittleEndian.PutUint32(cbw[4:], tag)
	binary.LittleEndian.PutUint32(cbw[8:], transferLength)
	if directionIn {
		cbw[12] = transport.CbwFlagDirectionIn
	}
	cbw[13] = lun
	cbw[14] = uint8(len(cdb))
	copy(cbw[15:], cdb)

	return cbw
}

// HostSubmitCommand places a wrapper with the device as the USB hardware
// would: the wrapper bytes land in the wrapper window, the wire length is
// latched, and the arrival flag rises. A non-nil payload is staged in the
// host-facing data window with its done flag raised; the firmware sees
// both flags on its next poll and handles arrival first.
func (d *Device) HostSubmitCommand(cbw []byte, payload []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()

	copy(d.buffer[api.CbwBufferBase:], cbw)
	d.registers[api.RegUsbCbwLength] = uint8(len(cbw))
	d.flags |= api.FlagCbwReady

	if payload != nil {
		copy(d.buffer[api.UsbDataBase:], payload)
		d.flags |= api.FlagDataOutDone
	}
}

// HostCollectCSW pops the oldest status wrapper the firmware sent, or
// false when none is pending.
func (d *Device) HostCollectCSW() ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.cswLog) == 0 {
		return nil, false
	}

	csw := d.cswLog[0]
	d.cswLog = d.cswLog[1:]

	return csw, true
}

// HostCollectData reads length bytes from the host-facing data window,
// the endpoint buffer an IN transfer leaves behind.
func (d *Device) HostCollectData(length uint32) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	data := make([]byte, length)
	copy(data, d.buffer[api.UsbDataBase:])

	return data
}

// NamespaceData copies blocks of namespace content for assertions.
func (d *Device) NamespaceData(id uint32, lba uint64, blocks uint32) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	ns, ok := d.namespaces[id]
	if !ok {
		return nil
	}

	offset := lba * uint64(ns.blockSize)
	length := uint64(blocks) * uint64(ns.blockSize)

	data := make([]byte, length)
	copy(data, ns.data[offset:])

	return data
}

// FillNamespace seeds namespace content starting at lba.
func (d *Device) FillNamespace(id uint32, lba uint64, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ns, ok := d.namespaces[id]
	if !ok {
		return
	}

	copy(ns.data[lba*uint64(ns.blockSize):], data)
}

// Serial returns the derived controller serial number.
func (d *Device) Serial() string {
	return d.serial
}
