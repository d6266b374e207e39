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

// Package link coordinates transfer activity with the readiness of the
// underlying USB and PCIe links. Every stage consults the coordinator
// before touching hardware; a down link defers work instead of failing it,
// up to a bounded number of consecutive deferrals.
package link

import (
	"github.com/go-logr/logr"

	"github.com/NearNodeFlash/nnf-bridge/pkg/api"
)

// Readiness is the verdict of one readiness poll.
type Readiness int

const (
	// ReadinessReady - link up, proceed.
	ReadinessReady Readiness = iota

	// ReadinessDeferred - link down within budget; retry the same action
	// on a later dispatch.
	ReadinessDeferred

	// ReadinessFailed - the deferral budget is exhausted; the action fails
	// with a LinkError.
	ReadinessFailed
)

// Coordinator gates work on link state and tracks host-initiated power
// transitions. In-flight commands are preserved across suspend/resume; only
// an explicit interface reset aborts them, and that is the dispatcher's
// business, not the coordinator's.
type Coordinator struct {
	device      api.DeviceController
	retryBudget uint

	deferrals uint
	suspended bool

	log logr.Logger
}

func NewCoordinator(device api.DeviceController, retryBudget uint, log logr.Logger) *Coordinator {
	return &Coordinator{
		device:      device,
		retryBudget: retryBudget,
		log:         log.WithName("link"),
	}
}

// Ready is the bare link query, no deferral accounting.
func (c *Coordinator) Ready() bool {
	return c.device.LinkUp()
}

// Poll performs one gated readiness check. A ready link clears the
// deferral count. A down link defers until the budget of consecutive
// deferrals is spent, then fails with a LinkError and resets the count so
// the next action starts fresh.
func (c *Coordinator) Poll() (Readiness, error) {
	if c.device.LinkUp() {
		c.deferrals = 0
		return ReadinessReady, nil
	}

	c.deferrals++
	if c.deferrals <= c.retryBudget {
		c.log.V(1).Info("Link not ready, action deferred", "deferrals", c.deferrals,
			"budget", c.retryBudget)
		return ReadinessDeferred, nil
	}

	retries := c.deferrals
	c.deferrals = 0

	err := NewLinkError(retries)
	c.log.Error(err, "Link retry budget exhausted")

	return ReadinessFailed, err
}

// HandleFlags consumes the power and link flags of one dispatch pass.
func (c *Coordinator) HandleFlags(flags api.FlagSet) {
	if flags.Has(api.FlagSuspend) {
		if !c.suspended {
			c.log.Info("Host suspended the device, in-flight commands preserved")
		}
		c.suspended = true
	}

	if flags.Has(api.FlagResume) {
		if c.suspended {
			c.log.Info("Host resumed the device")
		}
		c.suspended = false
	}

	if flags.Has(api.FlagLinkChange) {
		c.log.Info("Link state changed", "up", c.device.LinkUp())
	}
}

// Suspended reports whether the host has suspended the device; dispatch
// idles while suspended.
func (c *Coordinator) Suspended() bool { return c.suspended }
