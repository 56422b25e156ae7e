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
	"github.com/eepycrawl/flamekv/kv/server"
	"github.com/eepycrawl/flamekv/pkg/daemon"
	"github.com/eepycrawl/flamekv/pkg/logutil"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

func main() {
	defer logutil.LogPanic()
	cfg := daemon.Setup("kvs-worker", "0.0.0.0:8001")
	defer log.Sync()
	if cfg.Server.Coordinator == "" {
		log.Fatal("kvs worker needs -coordinator")
	}

	svr, err := server.NewServer(cfg)
	if err != nil {
		log.Fatal("create server failed", zap.Error(err))
	}
	ctx, sig := daemon.SignalContext()
	if err := svr.Run(ctx); err != nil {
		log.Fatal("run server failed", zap.Error(err))
	}
	daemon.Wait(ctx, sig, svr.Close)
}
