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

// Package transport implements the Bulk-Only Transport envelope of the
// bridge: validation and decode of command block wrappers received from the
// host, and construction and transmission of the status wrappers that close
// each command.
package transport

import (
	"github.com/go-logr/logr"

	"github.com/NearNodeFlash/nnf-bridge/pkg/api"
)

// Handler moves wrappers between the firmware and the transport windows of
// the device buffer RAM.
type Handler struct {
	device api.DeviceController
	log    logr.Logger
}

func NewHandler(device api.DeviceController, log logr.Logger) *Handler {
	return &Handler{
		device: device,
		log:    log.WithName("transport"),
	}
}

// ReadCBW retrieves and validates the wrapper currently held in the CBW
// buffer window. Callers invoke this only after the device raised the
// cbw-ready flag.
func (h *Handler) ReadCBW() (*ParsedCommand, error) {
	length := int(h.device.ReadRegister(api.RegUsbCbwLength))

	data := make([]byte, length)
	h.device.ReadBuffer(api.CbwBufferBase, data)

	cmd, err := ParseCBW(data)
	if err != nil {
		return nil, err
	}

	h.log.V(1).Info("Command received", "tag", cmd.Tag, "lun", cmd.LUN,
		"transferLength", cmd.TransferLength, "directionIn", cmd.DirectionIn,
		"opcode", cmd.CommandBlock[0])

	return cmd, nil
}

// SendCSW stages a status wrapper in the CSW buffer window and strobes the
// transport send. The tag echoes the wrapper of the command being closed.
func (h *Handler) SendCSW(tag uint32, residue uint32, status Status) {
	h.device.WriteBuffer(api.CswBufferBase, BuildCSW(tag, residue, status))
	h.device.WriteRegister(api.RegUsbControl, api.UsbControlSendCsw)

	h.log.V(1).Info("Status sent", "tag", tag, "residue", residue, "status", status.String())
}
