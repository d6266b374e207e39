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

package api

import "strings"

// DeviceController is the control surface of the bridge hardware as seen by
// the firmware core. The core never touches hardware except through this
// interface; internal/mockdevice provides the functional implementation used
// for host-side execution and tests.
//
// ReadBuffer and WriteBuffer are the burst form of the register window: the
// same address space the byte registers live in also maps the shared buffer
// RAM (queue rings, CBW/CSW windows, data regions, identify pages).
type DeviceController interface {
	ReadRegister(addr uint32) uint8
	WriteRegister(addr uint32, value uint8)

	ReadBuffer(addr uint32, p []byte)
	WriteBuffer(addr uint32, p []byte)

	// TriggerDMA starts a buffer-to-buffer move of length bytes. The engine
	// accepts one transfer at a time; callers poll DMABusy before issuing
	// the next.
	TriggerDMA(src, dst, length uint32)
	DMABusy() bool

	LinkUp() bool

	// PollInterruptFlags returns the currently raised flags. Flags are
	// level-held by the device until acknowledged through RegIntAck.
	PollInterruptFlags() FlagSet
}

// FlagSet - interrupt flags raised by the device, one bit per condition.
type FlagSet uint8

const (
	// FlagCbwReady indicates a 31-byte command block wrapper has landed in
	// the CBW buffer window.
	FlagCbwReady FlagSet = 1 << iota

	// FlagDataOutDone indicates the host's OUT payload is resident in the
	// USB data window.
	FlagDataOutDone

	// FlagNvmeCompletion indicates one or more new completion queue entries
	// are available.
	FlagNvmeCompletion

	// FlagLinkChange indicates the USB or PCIe link changed state.
	FlagLinkChange

	// FlagSuspend and FlagResume report host-initiated power transitions.
	FlagSuspend
	FlagResume

	// FlagInterfaceReset reports a Bulk-Only mass storage reset; all
	// in-flight commands must be abandoned.
	FlagInterfaceReset
)

// Has reports whether every bit of q is raised in f.
func (f FlagSet) Has(q FlagSet) bool { return f&q == q }

var flagNames = []struct {
	bit  FlagSet
	name string
}{
	{FlagCbwReady, "cbw-ready"},
	{FlagDataOutDone, "data-out-done"},
	{FlagNvmeCompletion, "nvme-completion"},
	{FlagLinkChange, "link-change"},
	{FlagSuspend, "suspend"},
	{FlagResume, "resume"},
	{FlagInterfaceReset, "interface-reset"},
}

func (f FlagSet) String() string {
	if f == 0 {
		return "none"
	}

	names := []string{}
	for _, fn := range flagNames {
		if f.Has(fn.bit) {
			names = append(names, fn.name)
		}
	}

	return strings.Join(names, "|")
}
