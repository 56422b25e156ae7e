// Copyright 2016 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

// Package daemon holds the startup and shutdown steps every server binary
// shares: flag and config parsing, logger setup and signal handling.
package daemon

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/eepycrawl/flamekv/kv/config"
	"github.com/eepycrawl/flamekv/pkg/logutil"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// Setup parses the command line into a config for the named daemon and
// installs the logger. It exits the process on failure.
func Setup(name, defaultAddr string) *config.Config {
	cfg := config.NewConfig(name, defaultAddr)
	err := cfg.Parse(os.Args[1:])
	switch errors.Cause(err) {
	case nil:
	case flag.ErrHelp:
		Exit(0)
	default:
		log.Fatal("parse cmd flags error", zap.Error(err))
	}

	if err = logutil.InitLogger(&cfg.Log); err != nil {
		log.Fatal("initialize logger error", zap.Error(err))
	}
	for _, msg := range cfg.WarningMsgs {
		log.Warn(msg)
	}
	log.Info("config loaded", zap.String("daemon", name), zap.Reflect("config", cfg))
	return cfg
}

// SignalContext returns a context cancelled on the first termination
// signal, and a function reporting that signal.
func SignalContext() (context.Context, func() os.Signal) {
	sc := make(chan os.Signal, 1)
	signal.Notify(sc,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)

	ctx, cancel := context.WithCancel(context.Background())
	var sig os.Signal
	go func() {
		sig = <-sc
		cancel()
	}()
	return ctx, func() os.Signal { return sig }
}

// Wait blocks until ctx is done, stops the server and exits: 0 on SIGTERM,
// 1 on any other signal.
func Wait(ctx context.Context, received func() os.Signal, stop func()) {
	<-ctx.Done()
	sig := received()
	log.Info("Got signal to exit", zap.Stringer("signal", sig))

	stop()
	if sig == syscall.SIGTERM {
		Exit(0)
	}
	Exit(1)
}

// Exit flushes the logger before leaving.
func Exit(code int) {
	log.Sync()
	os.Exit(code)
}
