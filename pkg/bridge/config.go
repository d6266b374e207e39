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

package bridge

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/ghodss/yaml"

	"github.com/NearNodeFlash/nnf-bridge/pkg/api"
)

// Duration is a time.Duration that reads and writes as a duration string
// ("100ms", "2s") in configuration files.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}

	*d = Duration(parsed)
	return nil
}

// Transfer modes assignable to a logical unit's endpoint.
const (
	TransferModeBulk      = "bulk"
	TransferModeInterrupt = "interrupt"
)

// UnitConfig maps one logical unit onto a device namespace.
type UnitConfig struct {
	LUN         uint8  `json:"lun"`
	NamespaceID uint32 `json:"namespaceId"`

	TransferMode   string `json:"transferMode,omitempty"`
	WriteProtected bool   `json:"writeProtected,omitempty"`
	Removable      bool   `json:"removable,omitempty"`
}

// EndpointMode resolves the configured transfer mode to its register
// value.
func (u *UnitConfig) EndpointMode() uint8 {
	if u.TransferMode == TransferModeInterrupt {
		return api.EndpointModeInterrupt
	}
	return api.EndpointModeBulk
}

// Config carries everything the dispatch loop needs that is not derived
// from the device itself.
type Config struct {
	// Vendor is the T10 vendor identification reported through INQUIRY.
	Vendor string `json:"vendor,omitempty"`

	Units []UnitConfig `json:"units"`

	// DMAChunkLimit caps a single transfer engine burst in bytes. The
	// hardware maximum is not architecturally fixed, so it is configured
	// rather than assumed.
	DMAChunkLimit uint32 `json:"dmaChunkLimit,omitempty"`

	// DMAPollBudget is the number of consecutive busy polls tolerated on
	// one chunk before the transfer is abandoned.
	DMAPollBudget uint32 `json:"dmaPollBudget,omitempty"`

	// LinkRetryBudget is the number of consecutive dispatch passes an
	// action may be deferred on a down link before it fails.
	LinkRetryBudget uint `json:"linkRetryBudget,omitempty"`

	PollInterval     Duration `json:"pollInterval,omitempty"`
	LinkReadyTimeout Duration `json:"linkReadyTimeout,omitempty"`
	NvmeReadyTimeout Duration `json:"nvmeReadyTimeout,omitempty"`
	NvmeAdminTimeout Duration `json:"nvmeAdminTimeout,omitempty"`
}

func NewDefaultConfig() *Config {
	return &Config{
		Vendor: "HPE",
		Units: []UnitConfig{
			{LUN: 0, NamespaceID: 1},
		},
		DMAChunkLimit:    0x8000,
		DMAPollBudget:    1000,
		LinkRetryBudget:  8,
		PollInterval:     Duration(time.Millisecond),
		LinkReadyTimeout: Duration(5 * time.Second),
		NvmeReadyTimeout: Duration(2 * time.Second),
		NvmeAdminTimeout: Duration(2 * time.Second),
	}
}

// NewDefaultTestConfig shortens every wait so failure paths run in
// test time.
func NewDefaultTestConfig() *Config {
	config := NewDefaultConfig()

	config.DMAPollBudget = 8
	config.LinkRetryBudget = 3
	config.PollInterval = Duration(time.Millisecond)
	config.LinkReadyTimeout = Duration(10 * time.Millisecond)
	config.NvmeReadyTimeout = Duration(10 * time.Millisecond)
	config.NvmeAdminTimeout = Duration(10 * time.Millisecond)

	return config
}

// ReadConfig loads a YAML configuration over the defaults.
func ReadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	config := NewDefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config %s: %w", path, err)
	}

	return config, nil
}

func (c *Config) Validate() error {
	if len(c.Units) == 0 {
		return fmt.Errorf("no logical units configured")
	}

	seen := map[uint8]bool{}
	for _, unit := range c.Units {
		if unit.LUN >= 16 {
			return fmt.Errorf("lun %d out of range", unit.LUN)
		}
		if seen[unit.LUN] {
			return fmt.Errorf("lun %d configured twice", unit.LUN)
		}
		seen[unit.LUN] = true

		if unit.NamespaceID == 0 {
			return fmt.Errorf("lun %d has no namespace", unit.LUN)
		}

		switch unit.TransferMode {
		case "", TransferModeBulk, TransferModeInterrupt:
		default:
			return fmt.Errorf("lun %d transfer mode %q unknown", unit.LUN, unit.TransferMode)
		}
	}

	if c.DMAChunkLimit == 0 {
		return fmt.Errorf("dma chunk limit must be nonzero")
	}
	if c.DMAPollBudget == 0 {
		return fmt.Errorf("dma poll budget must be nonzero")
	}

	return nil
}
