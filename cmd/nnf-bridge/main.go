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

// The nnf-bridge simulator runs the bridge firmware core against the
// mock device model, with an optional host workload generator and a
// debug HTTP endpoint for state and metrics. On hardware the dispatch
// loop is entered from the firmware main; everything else here is
// simulation harness.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/NearNodeFlash/nnf-bridge/internal/mockdevice"
	"github.com/NearNodeFlash/nnf-bridge/pkg/bridge"
	"github.com/NearNodeFlash/nnf-bridge/pkg/token"
)

// loadOrCreateKey returns the DER signing key stored at path, creating
// and persisting a fresh one when the file does not exist yet.
func loadOrCreateKey(path string, log logr.Logger) ([]byte, error) {
	pemKey, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		keyBytes, pemKey, err := token.CreateKeyForTokens()
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(path, pemKey, 0600); err != nil {
			return nil, err
		}

		log.Info("Signing key generated", "path", path)
		return keyBytes, nil
	}
	if err != nil {
		return nil, err
	}

	return token.GetKeyFromPEM(pemKey)
}

func newLogger(level int) (logr.Logger, error) {
	config := zap.NewDevelopmentConfig()
	config.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	config.Level = zap.NewAtomicLevelAt(zapcore.Level(-level))

	zaplogger, err := config.Build()
	if err != nil {
		return logr.Logger{}, err
	}

	return zapr.NewLogger(zaplogger), nil
}

func main() {
	var (
		configPath   string
		httpAddr     string
		workload     bool
		logLevel     int
		pollInterval time.Duration
		tokenKeyPath string
		mintToken    bool
	)

	flag.StringVar(&configPath, "config", "", "bridge configuration file, defaults apply when empty")
	flag.StringVar(&httpAddr, "http-addr", ":8080", "debug and metrics listen address")
	flag.BoolVar(&workload, "workload", false, "generate a continuous host workload")
	flag.IntVar(&logLevel, "zap-log-level", 0, "log verbosity, larger is chattier")
	flag.DurationVar(&pollInterval, "poll-interval", 0, "dispatch poll interval, overrides the configured value when set")
	flag.StringVar(&tokenKeyPath, "token-key", "", "PEM signing key gating the fault routes, generated when the file does not exist")
	flag.BoolVar(&mintToken, "mint-token", false, "print a fault route bearer token and exit")
	flag.Parse()

	log, err := newLogger(logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}

	log = log.WithName("simulator").WithValues("session", uuid.New().String())

	var signingKey []byte
	if tokenKeyPath != "" {
		signingKey, err = loadOrCreateKey(tokenKeyPath, log)
		if err != nil {
			log.Error(err, "Signing key unavailable", "path", tokenKeyPath)
			os.Exit(1)
		}
	}

	if mintToken {
		if signingKey == nil {
			fmt.Fprintln(os.Stderr, "-mint-token requires -token-key")
			os.Exit(1)
		}

		minted, err := token.CreateToken(signingKey, "debug-cli", 24*time.Hour)
		if err != nil {
			log.Error(err, "Token mint failed")
			os.Exit(1)
		}

		fmt.Println(minted)
		return
	}

	config := bridge.NewDefaultConfig()
	if configPath != "" {
		config, err = bridge.ReadConfig(configPath)
		if err != nil {
			log.Error(err, "Configuration rejected")
			os.Exit(1)
		}
	}

	if pollInterval > 0 {
		config.PollInterval = bridge.Duration(pollInterval)
	}

	deviceOpts := mockdevice.NewDefaultOptions()
	device := mockdevice.NewDevice(deviceOpts)
	b := bridge.New(device, config, clock.RealClock{}, log)

	if err := b.Initialize(); err != nil {
		log.Error(err, "Bridge initialization failed")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return b.Run(ctx)
	})

	group.Go(func() error {
		return serveDebug(ctx, httpAddr, b, device, signingKey, log)
	})

	if workload {
		group.Go(func() error {
			return runWorkload(ctx, device, deviceOpts, config, log)
		})
	}

	if err := group.Wait(); err != nil {
		log.Error(err, "Simulator failed")
		os.Exit(1)
	}
}
