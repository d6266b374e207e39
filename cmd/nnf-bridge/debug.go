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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/NearNodeFlash/nnf-bridge/internal/mockdevice"
	"github.com/NearNodeFlash/nnf-bridge/pkg/bridge"
	nvme "github.com/NearNodeFlash/nnf-bridge/pkg/manager-nvme"
	"github.com/NearNodeFlash/nnf-bridge/pkg/token"
)

type slotStatus struct {
	Index         uint8  `json:"index"`
	CorrelationID uint16 `json:"correlationId"`
	Tag           uint32 `json:"tag"`
	Opcode        string `json:"opcode"`
	State         string `json:"state"`
	Transferred   uint32 `json:"transferred"`
	Requested     uint32 `json:"requested"`
}

type bridgeStatus struct {
	State       string       `json:"state"`
	ActiveSlots int          `json:"activeSlots"`
	Slots       []slotStatus `json:"slots"`
}

func statusHandler(b *bridge.Bridge) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := bridgeStatus{
			State:       fmt.Sprintf("0x%02x", b.State()),
			ActiveSlots: b.Slots().Active(),
			Slots:       []slotStatus{},
		}

		for _, slot := range b.Slots().ActiveSlots() {
			status.Slots = append(status.Slots, slotStatus{
				Index:         slot.Index,
				CorrelationID: slot.CorrelationID,
				Tag:           slot.Tag,
				Opcode:        fmt.Sprintf("0x%02x", slot.OpCode),
				State:         slot.State.String(),
				Transferred:   slot.Transferred,
				Requested:     slot.RequestedLength,
			})
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(&status); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

// Fault statuses the command fault route accepts.
var commandStatuses = map[string]uint16{
	"internal":  nvme.StatusInternalError,
	"lba-range": nvme.StatusLbaOutOfRange,
}

func linkDownHandler(device *mockdevice.Device, log logr.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fault := struct {
			Polls int `json:"polls"`
		}{}
		if err := json.NewDecoder(r.Body).Decode(&fault); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		device.SetLinkDown(fault.Polls)
		log.Info("Fault injected", "fault", "link-down", "polls", fault.Polls)
		w.WriteHeader(http.StatusNoContent)
	}
}

func commandFaultHandler(device *mockdevice.Device, log logr.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fault := struct {
			Status string `json:"status"`
		}{}
		if err := json.NewDecoder(r.Body).Decode(&fault); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		status, ok := commandStatuses[fault.Status]
		if !ok {
			http.Error(w, fmt.Sprintf("unknown command status %q", fault.Status), http.StatusBadRequest)
			return
		}

		device.FailNextCommand(status)
		log.Info("Fault injected", "fault", "command", "status", fault.Status)
		w.WriteHeader(http.StatusNoContent)
	}
}

func completionFaultHandler(device *mockdevice.Device, log logr.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fault := struct {
			Drop      int  `json:"drop"`
			Duplicate bool `json:"duplicate"`
		}{}
		if err := json.NewDecoder(r.Body).Decode(&fault); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		if fault.Drop > 0 {
			device.DropCompletions(fault.Drop)
		}
		if fault.Duplicate {
			device.DuplicateNextCompletion()
		}
		log.Info("Fault injected", "fault", "completion", "drop", fault.Drop, "duplicate", fault.Duplicate)
		w.WriteHeader(http.StatusNoContent)
	}
}

func dmaFaultHandler(device *mockdevice.Device, log logr.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fault := struct {
			Wedge     *bool `json:"wedge"`
			BusyPolls *int  `json:"busyPolls"`
		}{}
		if err := json.NewDecoder(r.Body).Decode(&fault); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		if fault.Wedge != nil {
			if *fault.Wedge {
				device.WedgeDMA()
			} else {
				device.ReleaseDMA()
			}
		}
		if fault.BusyPolls != nil {
			device.SetDMABusyPolls(*fault.BusyPolls)
		}
		log.Info("Fault injected", "fault", "dma")
		w.WriteHeader(http.StatusNoContent)
	}
}

func raiseHandler(name string, raise func(), log logr.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raise()
		log.Info("Fault injected", "fault", name)
		w.WriteHeader(http.StatusNoContent)
	}
}

// requireToken guards a route with a pkg/token bearer token. The
// read-only routes stay open; only fault injection is gated.
func requireToken(key []byte) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const prefix = "Bearer "

			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, prefix) {
				http.Error(w, "bearer token required", http.StatusUnauthorized)
				return
			}
			if err := token.VerifyToken(strings.TrimPrefix(header, prefix), key); err != nil {
				http.Error(w, "token rejected", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// serveDebug exposes bridge state, the metrics registry, and the mock
// device's fault hooks until the context is done. When a signing key is
// supplied the fault routes require a bearer token.
func serveDebug(ctx context.Context, address string, b *bridge.Bridge, device *mockdevice.Device, key []byte, log logr.Logger) error {
	router := mux.NewRouter()
	router.HandleFunc("/status", statusHandler(b)).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	faults := router.PathPrefix("/faults").Subrouter()
	if key != nil {
		faults.Use(requireToken(key))
	}
	faults.HandleFunc("/link-down", linkDownHandler(device, log)).Methods(http.MethodPost)
	faults.HandleFunc("/command", commandFaultHandler(device, log)).Methods(http.MethodPost)
	faults.HandleFunc("/completion", completionFaultHandler(device, log)).Methods(http.MethodPost)
	faults.HandleFunc("/dma", dmaFaultHandler(device, log)).Methods(http.MethodPost)
	faults.HandleFunc("/suspend", raiseHandler("suspend", device.RaiseSuspend, log)).Methods(http.MethodPost)
	faults.HandleFunc("/resume", raiseHandler("resume", device.RaiseResume, log)).Methods(http.MethodPost)
	faults.HandleFunc("/reset", raiseHandler("interface-reset", device.RaiseInterfaceReset, log)).Methods(http.MethodPost)

	server := &http.Server{
		Addr:    address,
		Handler: cors.AllowAll().Handler(router),
	}

	errs := make(chan error, 1)
	go func() {
		log.Info("Debug endpoint listening", "address", address)
		errs <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errs:
		return err
	}
}
