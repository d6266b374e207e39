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

import "github.com/NearNodeFlash/nnf-bridge/pkg/api"

// Fault injection. Each method arms a single deviation from normal
// behavior so tests can walk the firmware's failure paths; the device
// returns to normal once the fault has fired.

// SetLinkDown makes the next polls of the host link report it down and
// raises the link change flag.
func (d *Device) SetLinkDown(polls int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.linkDownPolls = polls
	d.flags |= api.FlagLinkChange
}

// WedgeDMA leaves the transfer engine busy until ReleaseDMA.
func (d *Device) WedgeDMA() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.dmaWedged = true
}

// ReleaseDMA lets a wedged engine resume.
func (d *Device) ReleaseDMA() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.dmaWedged = false
}

// SetDMABusyPolls configures how many busy indications each chunk gives
// before landing.
func (d *Device) SetDMABusyPolls(polls int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.dmaBusyPolls = polls
}

// DropCompletions swallows the next count I/O completions; the commands
// execute but never report back.
func (d *Device) DropCompletions(count int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.faults.dropCompletions = count
}

// DuplicateNextCompletion emits the next I/O completion twice.
func (d *Device) DuplicateNextCompletion() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.faults.duplicateCompletion = true
}

// FailNextCommand completes the next I/O command with the given status
// code instead of executing it.
func (d *Device) FailNextCommand(status uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.faults.failArmed = true
	d.faults.failStatus = status
}

// RaiseInterfaceReset signals a Bulk-Only Transport mass storage reset.
func (d *Device) RaiseInterfaceReset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.flags |= api.FlagInterfaceReset
}

// RaiseSuspend signals host-initiated bus suspend.
func (d *Device) RaiseSuspend() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.flags |= api.FlagSuspend
}

// RaiseResume signals resume from suspend.
func (d *Device) RaiseResume() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.flags |= api.FlagResume
}
