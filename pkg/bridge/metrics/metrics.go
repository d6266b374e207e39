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

// Package metrics holds the bridge dispatch counters. The simulator
// exposes them over its debug endpoint; on hardware they are free-running
// and readable through the debugger.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	BridgeCommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nnf_bridge_commands_total",
			Help: "Number of commands opened from command block wrappers",
		},
		[]string{"opcode"},
	)

	BridgeCommandFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nnf_bridge_command_failures_total",
			Help: "Number of commands closed with a non-good status wrapper",
		},
		[]string{"reason"},
	)

	NvmeSubmissionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nnf_bridge_nvme_submissions_total",
			Help: "Number of entries submitted on the I/O queue",
		},
	)

	NvmeCompletionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nnf_bridge_nvme_completions_total",
			Help: "Number of completions drained from the I/O queue",
		},
	)

	DmaChunksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nnf_bridge_dma_chunks_total",
			Help: "Number of transfer engine bursts issued",
		},
	)

	LinkRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nnf_bridge_link_retries_total",
			Help: "Number of dispatch passes deferred waiting for link readiness",
		},
	)

	SlotsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nnf_bridge_slots_active",
			Help: "Command slots currently in use",
		},
	)
)

func init() {
	prometheus.MustRegister(
		BridgeCommandsTotal,
		BridgeCommandFailuresTotal,
		NvmeSubmissionsTotal,
		NvmeCompletionsTotal,
		DmaChunksTotal,
		LinkRetriesTotal,
		SlotsActive,
	)
}
