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

package main

import (
	"github.com/eepycrawl/flamekv/flame/worker"
	"github.com/eepycrawl/flamekv/pkg/daemon"
	"github.com/eepycrawl/flamekv/pkg/logutil"
	"github.com/pingcap/log"
	"go.uber.org/zap"

	// Register the functions jobs send to workers.
	_ "github.com/eepycrawl/flamekv/flame/jobs"
)

func main() {
	defer logutil.LogPanic()
	cfg := daemon.Setup("flame-worker", "0.0.0.0:9001")
	defer log.Sync()
	if cfg.Server.Coordinator == "" {
		log.Fatal("flame worker needs -coordinator")
	}

	svr := worker.NewServer(cfg)
	ctx, sig := daemon.SignalContext()
	if err := svr.Run(ctx); err != nil {
		log.Fatal("run server failed", zap.Error(err))
	}
	daemon.Wait(ctx, sig, svr.Close)
}
