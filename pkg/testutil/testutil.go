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

// Package testutil holds helpers shared by tests across packages.
package testutil

import (
	"testing"
	"time"
)

const (
	waitMaxRetry   = 200
	waitRetrySleep = time.Millisecond * 25
)

// CheckFunc is a condition checker that passed to WaitUntil.
type CheckFunc func() bool

// WaitUntil repeatly evaluates f() for a period of time, util it returns true.
func WaitUntil(t testing.TB, f CheckFunc) {
	t.Helper()
	for i := 0; i < waitMaxRetry; i++ {
		if f() {
			return
		}
		time.Sleep(waitRetrySleep)
	}
	t.Fatal("wait timeout")
}
