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

// Package nvme manages the bridge's command path to the attached NVMe
// device: the admin queue pair used for controller bring-up and the I/O
// queue pair carrying translated commands. Submission entries are placed
// directly into queue rings in buffer RAM and announced through doorbell
// registers; completions are recognized by their phase tag and drained
// without blocking.
package nvme

import (
	"bytes"
	"fmt"
	"time"

	"github.com/HewlettPackard/structex"
	"github.com/go-logr/logr"
	"k8s.io/utils/clock"

	"github.com/NearNodeFlash/nnf-bridge/pkg/api"
	"github.com/NearNodeFlash/nnf-bridge/pkg/common"
)

// QueueDepth - entries per queue ring. Matches the command slot table
// size so every active slot can hold a queue position.
const QueueDepth = 32

const (
	adminQueueID = 0
	ioQueueID    = 1
)

// Options bound the blocking waits of controller initialization. Runtime
// submission and drain never block.
type Options struct {
	ReadyInterval time.Duration
	ReadyTimeout  time.Duration
	AdminInterval time.Duration
	AdminTimeout  time.Duration
}

func NewDefaultOptions() *Options {
	return &Options{
		ReadyInterval: time.Millisecond,
		ReadyTimeout:  2 * time.Second,
		AdminInterval: time.Millisecond,
		AdminTimeout:  2 * time.Second,
	}
}

func NewDefaultTestOptions() *Options {
	return &Options{
		ReadyInterval: time.Millisecond,
		ReadyTimeout:  10 * time.Millisecond,
		AdminInterval: time.Millisecond,
		AdminTimeout:  10 * time.Millisecond,
	}
}

// Manager owns both queue pairs and the identify data cached during
// initialization.
type Manager struct {
	device  api.DeviceController
	clk     clock.Clock
	options *Options

	admin *QueuePair
	io    *QueuePair

	controller IdentifyController
	namespaces map[uint32]*Namespace

	adminCommandID uint16

	log logr.Logger
}

func NewManager(device api.DeviceController, clk clock.Clock, options *Options, log logr.Logger) *Manager {
	log = log.WithName("nvme")

	return &Manager{
		device:     device,
		clk:        clk,
		options:    options,
		namespaces: map[uint32]*Namespace{},
		admin: NewQueuePair(device, adminQueueID, QueueDepth,
			api.AdminSQBase, api.AdminCQBase, api.RegAdminSQTail, api.RegAdminCQHead, log),
		io: NewQueuePair(device, ioQueueID, QueueDepth,
			api.IoSQBase, api.IoCQBase, api.RegIoSQTail, api.RegIoCQHead, log),
		log: log,
	}
}

// Initialize brings the controller to ready, caches identify data for the
// controller and the first namespaceCount namespaces, and establishes the
// I/O queue pair. Must complete before any Submit.
func (m *Manager) Initialize(namespaceCount uint32) error {
	m.device.WriteRegister(api.RegNvmeCC, api.NvmeCCEnable)

	if err := common.AwaitCondition(m.clk, m.options.ReadyInterval, m.options.ReadyTimeout, func() bool {
		return m.device.ReadRegister(api.RegNvmeCSTS)&api.NvmeCSTSReady != 0
	}); err != nil {
		return fmt.Errorf("controller not ready: %w", err)
	}

	if err := m.identifyController(); err != nil {
		return err
	}

	m.log.Info("Controller identified", "model", m.controller.Model(),
		"serial", m.controller.Serial(), "firmware", m.controller.Firmware(),
		"namespaces", m.controller.NamespaceCount)

	if m.controller.NamespaceCount < namespaceCount {
		namespaceCount = m.controller.NamespaceCount
	}

	for id := uint32(1); id <= namespaceCount; id++ {
		ns, err := m.identifyNamespace(id)
		if err != nil {
			return err
		}

		m.namespaces[id] = ns
		m.log.Info("Namespace identified", "nsid", id,
			"blockSize", ns.BlockSize, "blockCount", ns.BlockCount)
	}

	if err := m.createIoQueues(); err != nil {
		return err
	}

	m.log.Info("I/O queues established", "depth", QueueDepth)

	return nil
}

// Controller returns the identify data cached at initialization.
func (m *Manager) Controller() *IdentifyController { return &m.controller }

// Namespace returns the cached geometry of an attached namespace.
func (m *Manager) Namespace(id uint32) (*Namespace, bool) {
	ns, ok := m.namespaces[id]
	return ns, ok
}

// IORequest carries one translated command to the I/O queue. DataAddress
// is the buffer RAM location of the command's NVMe-side data window.
type IORequest struct {
	CorrelationID uint16
	Opcode        uint8
	NamespaceID   uint32
	LBA           uint64
	Blocks        uint32
	DataAddress   uint32
}

// Submit builds and enqueues the submission entry for one I/O request.
// The block count is a 0's based field on the wire; the caller
// guarantees Blocks is nonzero for data commands.
func (m *Manager) Submit(request IORequest) error {
	entry := &SubmissionEntry{
		Opcode:      request.Opcode,
		CommandID:   request.CorrelationID,
		NamespaceID: request.NamespaceID,
		PRP1:        uint64(request.DataAddress),
		CDW10:       uint32(request.LBA),
		CDW11:       uint32(request.LBA >> 32),
	}

	if request.Opcode == ReadOpcode || request.Opcode == WriteOpcode {
		entry.CDW12 = request.Blocks - 1
	}

	return m.io.Submit(entry)
}

// DrainCompletions consumes the I/O completions currently available.
func (m *Manager) DrainCompletions() []CompletionEntry {
	return m.io.DrainCompletions()
}

// Outstanding - submitted I/O commands not yet completed.
func (m *Manager) Outstanding() int {
	return m.io.Outstanding()
}

func (m *Manager) nextAdminCommandID() uint16 {
	m.adminCommandID++
	return m.adminCommandID
}

// adminCommand submits one admin command and waits, bounded, for its
// completion. Initialization is the only blocking path in the package.
func (m *Manager) adminCommand(entry *SubmissionEntry) (*CompletionEntry, error) {
	if err := m.admin.Submit(entry); err != nil {
		return nil, err
	}

	var completion *CompletionEntry

	if err := common.AwaitCondition(m.clk, m.options.AdminInterval, m.options.AdminTimeout, func() bool {
		for _, e := range m.admin.DrainCompletions() {
			e := e
			if e.CommandID == entry.CommandID {
				completion = &e
			}
		}
		return completion != nil
	}); err != nil {
		return nil, fmt.Errorf("admin opcode 0x%02x: %w", entry.Opcode, err)
	}

	if code := completion.StatusCode(); code != StatusSuccess {
		return nil, NewDeviceError(entry.Opcode, entry.CommandID, code)
	}

	return completion, nil
}

func (m *Manager) identifyController() error {
	entry := NewIdentifyCommand(m.nextAdminCommandID(), IdentifyControllerCNS, 0, uint64(api.IdentifyBase))

	if _, err := m.adminCommand(entry); err != nil {
		return fmt.Errorf("identify controller: %w", err)
	}

	page := make([]byte, IdentifyPageSize)
	m.device.ReadBuffer(api.IdentifyBase, page)

	if err := structex.DecodeByteBuffer(bytes.NewBuffer(page), &m.controller); err != nil {
		return fmt.Errorf("identify controller decode: %w", err)
	}

	return nil
}

func (m *Manager) identifyNamespace(id uint32) (*Namespace, error) {
	entry := NewIdentifyCommand(m.nextAdminCommandID(), IdentifyNamespaceCNS, id, uint64(api.IdentifyBase))

	if _, err := m.adminCommand(entry); err != nil {
		return nil, fmt.Errorf("identify namespace %d: %w", id, err)
	}

	page := make([]byte, IdentifyPageSize)
	m.device.ReadBuffer(api.IdentifyBase, page)

	identify := IdentifyNamespace{}
	if err := structex.DecodeByteBuffer(bytes.NewBuffer(page), &identify); err != nil {
		return nil, fmt.Errorf("identify namespace %d decode: %w", id, err)
	}

	return &Namespace{
		ID:         id,
		BlockSize:  identify.BlockSize(),
		BlockCount: identify.Size,
	}, nil
}

func (m *Manager) createIoQueues() error {
	cq := NewCreateCompletionQueueCommand(m.nextAdminCommandID(), ioQueueID, QueueDepth, uint64(api.IoCQBase))
	if _, err := m.adminCommand(cq); err != nil {
		return fmt.Errorf("create completion queue: %w", err)
	}

	sq := NewCreateSubmissionQueueCommand(m.nextAdminCommandID(), ioQueueID, ioQueueID, QueueDepth, uint64(api.IoSQBase))
	if _, err := m.adminCommand(sq); err != nil {
		return fmt.Errorf("create submission queue: %w", err)
	}

	return nil
}
