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

// Package bridge is the top-level protocol state machine of the firmware.
// Each dispatch pass maps the current I/O state code to one of four
// actions through a fixed table, runs that action without blocking, and
// retires one completion flag. All waiting happens across passes: the
// event loop re-enters Dispatch and the state code decides what, if
// anything, there is to do.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/utils/clock"

	"github.com/NearNodeFlash/nnf-bridge/pkg/api"
	"github.com/NearNodeFlash/nnf-bridge/pkg/bridge/metrics"
	"github.com/NearNodeFlash/nnf-bridge/pkg/common"
	command "github.com/NearNodeFlash/nnf-bridge/pkg/manager-command"
	dma "github.com/NearNodeFlash/nnf-bridge/pkg/manager-dma"
	link "github.com/NearNodeFlash/nnf-bridge/pkg/manager-link"
	nvme "github.com/NearNodeFlash/nnf-bridge/pkg/manager-nvme"
	scsi "github.com/NearNodeFlash/nnf-bridge/pkg/manager-scsi"
	transport "github.com/NearNodeFlash/nnf-bridge/pkg/manager-transport"
)

// I/O state codes. A dispatch pass acts only on the four codes in the
// dispatch table; every other value means no work.
const (
	StateIdle uint8 = 0x00

	// StateOpenCommand - a command block wrapper is waiting to be opened.
	StateOpenCommand uint8 = 0x80

	// StateContinueTransfer - the open command is on the device; waiting
	// for its completion.
	StateContinueTransfer uint8 = 0x81

	// StateDataInService - device data is ready; the transfer engine is
	// moving it to the host-facing window.
	StateDataInService uint8 = 0x88

	// StateDataOutService - waiting for host data, or moving it to the
	// device-facing window.
	StateDataOutService uint8 = 0x8A
)

// Action codes, the values of the dispatch table.
const (
	ActionServiceDataOut   = 0
	ActionContinueTransfer = 1
	ActionServiceDataIn    = 2
	ActionOpenCommand      = 3
)

// dispatchTable is fixed; unknown state codes fall through to no work and
// never advance state.
var dispatchTable = map[uint8]int{
	StateOpenCommand:      ActionOpenCommand,
	StateContinueTransfer: ActionContinueTransfer,
	StateDataInService:    ActionServiceDataIn,
	StateDataOutService:   ActionServiceDataOut,
}

// Bridge ties the managers together under the dispatch loop. One command
// is in flight on the transport at a time; the slot table bounds the
// device side and absorbs late completions.
type Bridge struct {
	device api.DeviceController
	config *Config
	clk    clock.Clock

	transport  *transport.Handler
	translator *scsi.Translator
	slots      *command.Table
	nvme       *nvme.Manager
	dma        *dma.Manager
	link       *link.Coordinator

	ioState  uint8
	current  *command.Slot
	pending  *scsi.Request
	sequence uint16

	log logr.Logger
}

func New(device api.DeviceController, config *Config, clk clock.Clock, log logr.Logger) *Bridge {
	log = log.WithName("bridge")

	nvmeOptions := &nvme.Options{
		ReadyInterval: time.Duration(config.PollInterval),
		ReadyTimeout:  time.Duration(config.NvmeReadyTimeout),
		AdminInterval: time.Duration(config.PollInterval),
		AdminTimeout:  time.Duration(config.NvmeAdminTimeout),
	}

	return &Bridge{
		device:     device,
		config:     config,
		clk:        clk,
		transport:  transport.NewHandler(device, log),
		translator: scsi.NewTranslator(device, log),
		slots:      command.NewTable(log),
		nvme:       nvme.NewManager(device, clk, nvmeOptions, log),
		dma:        dma.NewManager(device, config.DMAPollBudget, log),
		link:       link.NewCoordinator(device, config.LinkRetryBudget, log),
		ioState:    StateIdle,
		log:        log,
	}
}

// Slots exposes the command slot table for status reporting.
func (b *Bridge) Slots() *command.Table { return b.slots }

// State returns the current I/O state code.
func (b *Bridge) State() uint8 { return b.ioState }

// Initialize waits for link, brings the device controller to ready, and
// binds every configured logical unit to its identified namespace. Must
// complete before the first Dispatch.
func (b *Bridge) Initialize() error {
	if err := common.AwaitCondition(b.clk, time.Duration(b.config.PollInterval),
		time.Duration(b.config.LinkReadyTimeout), b.link.Ready); err != nil {
		return fmt.Errorf("link not ready: %w", err)
	}

	namespaceCount := uint32(0)
	for _, unit := range b.config.Units {
		if unit.NamespaceID > namespaceCount {
			namespaceCount = unit.NamespaceID
		}
	}

	if err := b.nvme.Initialize(namespaceCount); err != nil {
		return fmt.Errorf("device initialize: %w", err)
	}

	controller := b.nvme.Controller()
	b.translator.SetIdentity(b.config.Vendor, controller.Model(),
		controller.Firmware(), controller.Serial())

	for _, unit := range b.config.Units {
		ns, ok := b.nvme.Namespace(unit.NamespaceID)
		if !ok {
			return fmt.Errorf("lun %d: namespace %d not identified", unit.LUN, unit.NamespaceID)
		}

		err := b.translator.ConfigureUnit(unit.LUN, scsi.LogicalUnit{
			NamespaceID:    unit.NamespaceID,
			BlockSize:      ns.BlockSize,
			BlockCount:     ns.BlockCount,
			TransferMode:   unit.EndpointMode(),
			WriteProtected: unit.WriteProtected,
			Removable:      unit.Removable,
		})
		if err != nil {
			return fmt.Errorf("lun %d: %w", unit.LUN, err)
		}
	}

	b.log.Info("Bridge initialized", "units", len(b.config.Units))

	return nil
}

// Run drives Dispatch from the event loop until the context is done.
func (b *Bridge) Run(ctx context.Context) error {
	b.log.Info("Dispatch loop running", "pollInterval", time.Duration(b.config.PollInterval).String())

	for {
		select {
		case <-ctx.Done():
			b.log.Info("Dispatch loop stopped")
			return nil
		default:
		}

		b.Dispatch()
		b.clk.Sleep(time.Duration(b.config.PollInterval))
	}
}

// Dispatch performs one cooperative pass: consume event flags, gate on
// link readiness, run the action selected by the current state code, and
// retire one completion flag. It never blocks and never panics on an
// unknown state; unknown codes are no work.
func (b *Bridge) Dispatch() {
	flags := b.device.PollInterruptFlags()

	if flags.Has(api.FlagInterfaceReset) {
		b.reset()
		b.device.WriteRegister(api.RegIntAck,
			uint8(api.FlagInterfaceReset|api.FlagCbwReady|api.FlagDataOutDone|api.FlagNvmeCompletion))
		return
	}

	b.link.HandleFlags(flags)
	if consumed := flags & (api.FlagSuspend | api.FlagResume | api.FlagLinkChange); consumed != 0 {
		b.device.WriteRegister(api.RegIntAck, uint8(consumed))
	}

	if b.link.Suspended() {
		return
	}

	if b.ioState == StateIdle && flags.Has(api.FlagCbwReady) {
		b.ioState = StateOpenCommand
	}

	action, ok := dispatchTable[b.ioState]
	if !ok {
		b.device.WriteRegister(api.RegIntAck, uint8(api.FlagNvmeCompletion))
		return
	}

	// Work is pending; nothing touches hardware until the link is ready.
	switch readiness, err := b.link.Poll(); readiness {
	case link.ReadinessDeferred:
		metrics.LinkRetriesTotal.Inc()
		if b.current != nil {
			b.current.RetryCount++
		}
		return
	case link.ReadinessFailed:
		b.failLink(err)
		return
	}

	switch action {
	case ActionOpenCommand:
		b.openCommand()
	case ActionContinueTransfer:
		b.continueTransfer()
	case ActionServiceDataIn:
		b.serviceDataIn()
	case ActionServiceDataOut:
		b.serviceDataOut(flags)
	}

	b.device.WriteRegister(api.RegIntAck, uint8(api.FlagNvmeCompletion))
}

func (b *Bridge) nextSequence() uint16 {
	b.sequence++
	return b.sequence
}

// openCommand reads the waiting wrapper, translates it, and either
// finishes it locally, submits it to the device, or parks it waiting for
// host data. Invalid wrappers are dropped without a slot or a status
// wrapper; the host recovers by transport reset.
func (b *Bridge) openCommand() {
	cmd, err := b.transport.ReadCBW()
	b.device.WriteRegister(api.RegIntAck, uint8(api.FlagCbwReady))

	if err != nil {
		b.log.Error(err, "Command block wrapper rejected")
		metrics.BridgeCommandFailuresTotal.WithLabelValues(failureReason(err)).Inc()
		b.ioState = StateIdle
		return
	}

	slot, err := b.slots.Allocate(b.nextSequence())
	if err != nil {
		// Backpressure: reject before any queue resource is consumed.
		b.log.Error(err, "Command rejected", "tag", cmd.Tag)
		metrics.BridgeCommandFailuresTotal.WithLabelValues(failureReason(err)).Inc()
		b.transport.SendCSW(cmd.Tag, cmd.TransferLength, transport.StatusFailed)
		b.ioState = StateIdle
		return
	}

	slot.Tag = cmd.Tag
	slot.LUN = cmd.LUN
	slot.OpCode = cmd.CommandBlock[0]
	slot.RequestedLength = cmd.TransferLength

	b.current = slot
	metrics.BridgeCommandsTotal.WithLabelValues(fmt.Sprintf("0x%02x", slot.OpCode)).Inc()
	metrics.SlotsActive.Set(float64(b.slots.Active()))

	req, err := b.translator.Translate(cmd)
	if err != nil {
		b.failCommand(slot, err)
		return
	}

	slot.Direction = req.Direction
	slot.RemainingLength = usbLength(cmd.TransferLength, req)

	switch req.Kind {
	case scsi.KindLocalStatus:
		b.finishCommand(slot, transport.StatusGood)

	case scsi.KindLocalData:
		// Stage the response in the device-facing window and move it
		// through the same chunked path as device data.
		b.device.WriteBuffer(api.NvmeDataBase, req.Data)
		b.startDataIn(slot)

	case scsi.KindNvme:
		if req.Direction == command.DirectionWrite {
			// Host data first; the entry is submitted once it lands.
			b.pending = req
			b.ioState = StateDataOutService
			return
		}
		b.submitRequest(slot, req)
	}
}

// continueTransfer drains completions, matches them to slots, and moves
// the open command forward once its completion has arrived.
func (b *Bridge) continueTransfer() {
	b.drainCompletions()

	slot := b.current
	if slot == nil {
		b.ioState = StateIdle
		return
	}

	switch slot.State {
	case command.SlotSubmitted:
		// First pass after the doorbell.
		slot.State = command.SlotAwaitingCompletion
		return
	case command.SlotAwaitingCompletion:
		return
	case command.SlotCompleting:
	default:
		return
	}

	if slot.NvmeStatus != nvme.StatusSuccess {
		b.failCommand(slot, nvme.NewDeviceError(slot.OpCode, slot.CorrelationID, slot.NvmeStatus))
		return
	}

	if slot.Direction == command.DirectionRead {
		b.startDataIn(slot)
		return
	}

	// Writes and flushes are done once the device confirms them.
	b.finishCommand(slot, transport.StatusGood)
}

// serviceDataIn polls the open command's transfer toward the host and
// closes the command when the last chunk lands.
func (b *Bridge) serviceDataIn() {
	slot := b.current
	if slot == nil || slot.Descriptor == nil {
		b.ioState = StateIdle
		return
	}

	status, err := b.dma.Poll(slot.Descriptor)
	switch status {
	case dma.TransferActive:
		return
	case dma.TransferFailed:
		metrics.DmaChunksTotal.Add(float64(slot.Descriptor.Chunks))
		b.failCommand(slot, err)
		return
	}

	slot.Transferred = slot.Descriptor.Transferred
	metrics.DmaChunksTotal.Add(float64(slot.Descriptor.Chunks))

	b.finishCommand(slot, transport.StatusGood)
}

// serviceDataOut waits for the host payload, moves it to the
// device-facing window, and submits the pending entry once the move
// completes.
func (b *Bridge) serviceDataOut(flags api.FlagSet) {
	slot := b.current
	req := b.pending
	if slot == nil || req == nil {
		b.ioState = StateIdle
		return
	}

	if slot.Descriptor == nil {
		if !flags.Has(api.FlagDataOutDone) {
			return
		}
		b.device.WriteRegister(api.RegIntAck, uint8(api.FlagDataOutDone))

		slot.Descriptor = &dma.Descriptor{
			Source:      api.UsbDataBase,
			Destination: api.NvmeDataBase,
			TotalLength: slot.RemainingLength,
			ChunkLimit:  b.config.DMAChunkLimit,
		}

		if err := b.dma.Start(slot.Descriptor); err != nil {
			b.failCommand(slot, err)
		}
		return
	}

	status, err := b.dma.Poll(slot.Descriptor)
	switch status {
	case dma.TransferActive:
		return
	case dma.TransferFailed:
		metrics.DmaChunksTotal.Add(float64(slot.Descriptor.Chunks))
		b.failCommand(slot, err)
		return
	}

	slot.Transferred = slot.Descriptor.Transferred
	metrics.DmaChunksTotal.Add(float64(slot.Descriptor.Chunks))

	b.pending = nil
	b.submitRequest(slot, req)
}

// startDataIn begins the move from the device-facing window to the
// host-facing window for the bytes the host will accept.
func (b *Bridge) startDataIn(slot *command.Slot) {
	slot.State = command.SlotCompleting
	slot.Descriptor = &dma.Descriptor{
		Source:      api.NvmeDataBase,
		Destination: api.UsbDataBase,
		TotalLength: slot.RemainingLength,
		ChunkLimit:  b.config.DMAChunkLimit,
	}

	if err := b.dma.Start(slot.Descriptor); err != nil {
		b.failCommand(slot, err)
		return
	}

	b.ioState = StateDataInService
}

// submitRequest places the translated entry on the I/O queue.
func (b *Bridge) submitRequest(slot *command.Slot, req *scsi.Request) {
	err := b.nvme.Submit(nvme.IORequest{
		CorrelationID: slot.CorrelationID,
		Opcode:        req.Opcode,
		NamespaceID:   req.NamespaceID,
		LBA:           req.LBA,
		Blocks:        req.Blocks,
		DataAddress:   api.NvmeDataBase,
	})
	if err != nil {
		b.failCommand(slot, err)
		return
	}

	slot.State = command.SlotSubmitted
	metrics.NvmeSubmissionsTotal.Inc()
	b.ioState = StateContinueTransfer
}

// drainCompletions consumes everything newly available on the completion
// queue. Entries that no longer match an active slot are discarded; that
// is the idempotence guarantee for duplicate and late completions.
func (b *Bridge) drainCompletions() {
	for _, entry := range b.nvme.DrainCompletions() {
		metrics.NvmeCompletionsTotal.Inc()

		slot := b.slots.MatchCompletion(entry.CommandID)
		if slot == nil {
			continue
		}

		slot.NvmeStatus = entry.StatusCode()
		slot.State = command.SlotCompleting
	}
}

// finishCommand closes the open command with its status wrapper and
// returns its slot to the pool.
func (b *Bridge) finishCommand(slot *command.Slot, status transport.Status) {
	slot.Descriptor = nil

	b.transport.SendCSW(slot.Tag, slot.Residue(), status)
	slot.MarkStatusSent()

	if err := b.slots.Free(slot); err != nil {
		b.log.Error(err, "Slot free failed", "slot", slot.Index)
	}

	if b.current == slot {
		b.current = nil
		b.pending = nil
	}

	b.ioState = StateIdle
	metrics.SlotsActive.Set(float64(b.slots.Active()))
}

// failCommand deposits sense for the failure, then closes the command
// with a failed or phase error status.
func (b *Bridge) failCommand(slot *command.Slot, err error) {
	status := transport.StatusFailed

	var perr *transport.ProtocolError
	if errors.As(err, &perr) && perr.Reason == transport.ReasonPhaseMismatch {
		status = transport.StatusPhaseError
	}

	if sense, ok := senseFor(err); ok {
		b.translator.SetSense(slot.LUN, sense)
	}

	slot.State = command.SlotErrored
	b.log.Error(err, "Command failed", "tag", slot.Tag, "lun", slot.LUN,
		"opcode", fmt.Sprintf("0x%02x", slot.OpCode), "slot", slot.Index)
	metrics.BridgeCommandFailuresTotal.WithLabelValues(failureReason(err)).Inc()

	b.finishCommand(slot, status)
}

// failLink surfaces an exhausted link retry budget against the open
// command, if any.
func (b *Bridge) failLink(err error) {
	if b.current != nil {
		b.failCommand(b.current, err)
		return
	}

	if b.ioState == StateOpenCommand {
		// The wrapper was never opened; read it just to answer it.
		cmd, cbwErr := b.transport.ReadCBW()
		b.device.WriteRegister(api.RegIntAck, uint8(api.FlagCbwReady))

		if cbwErr == nil {
			metrics.BridgeCommandFailuresTotal.WithLabelValues(failureReason(err)).Inc()
			b.transport.SendCSW(cmd.Tag, cmd.TransferLength, transport.StatusFailed)
		}
	}

	b.ioState = StateIdle
}

// reset aborts every active slot on a transport interface reset. Entries
// already on the device may still complete; their completions will no
// longer match and are discarded.
func (b *Bridge) reset() {
	aborted := b.slots.AbortAll()

	b.current = nil
	b.pending = nil
	b.ioState = StateIdle

	metrics.SlotsActive.Set(float64(b.slots.Active()))
	b.log.Info("Interface reset handled", "aborted", aborted)
}

// usbLength is the byte count the host side of the data phase moves: the
// lesser of what the host asked for and what the command produces.
func usbLength(transferLength uint32, req *scsi.Request) uint32 {
	if req.DataLength < transferLength {
		return req.DataLength
	}
	return transferLength
}

// senseFor maps a failure to the sense data deposited on the unit.
func senseFor(err error) (scsi.SenseData, bool) {
	var cerr *scsi.CommandError
	if errors.As(err, &cerr) {
		return cerr.Sense, true
	}

	var derr *nvme.DeviceError
	if errors.As(err, &derr) {
		switch derr.Status {
		case nvme.StatusLbaOutOfRange:
			return scsi.SenseData{Key: scsi.SenseKeyIllegalRequest, Asc: scsi.AscLbaOutOfRange}, true
		case nvme.StatusInternalError:
			return scsi.SenseData{Key: scsi.SenseKeyHardwareError, Asc: scsi.AscInternalTargetFailure}, true
		}
		return scsi.SenseData{Key: scsi.SenseKeyAbortedCommand}, true
	}

	var terr *dma.TransferError
	if errors.As(err, &terr) {
		return scsi.SenseData{Key: scsi.SenseKeyHardwareError, Asc: scsi.AscInternalTargetFailure}, true
	}

	var lerr *link.LinkError
	if errors.As(err, &lerr) {
		return scsi.SenseData{Key: scsi.SenseKeyHardwareError, Asc: scsi.AscInternalTargetFailure}, true
	}

	return scsi.SenseData{}, false
}

// failureReason labels a failure for the failure counter.
func failureReason(err error) string {
	var perr *transport.ProtocolError
	if errors.As(err, &perr) {
		return "protocol"
	}

	var cerr *scsi.CommandError
	if errors.As(err, &cerr) {
		return "scsi"
	}

	var serr *command.SlotError
	if errors.As(err, &serr) {
		return "slots"
	}

	var derr *nvme.DeviceError
	if errors.As(err, &derr) {
		return "device"
	}

	var qerr *nvme.QueueFullError
	if errors.As(err, &qerr) {
		return "queue"
	}

	var terr *dma.TransferError
	if errors.As(err, &terr) {
		return "dma"
	}

	var lerr *link.LinkError
	if errors.As(err, &lerr) {
		return "link"
	}

	return "internal"
}
