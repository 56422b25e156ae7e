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

// Package apiutil holds the HTTP plumbing shared by every daemon: error
// rendering and the negroni middleware chain.
package apiutil

import (
	"net/http"
	"strconv"
	"time"

	"github.com/pingcap/errcode"
	"github.com/pingcap/log"
	"github.com/unrolled/render"
	"github.com/urfave/negroni"
	"go.uber.org/zap"
)

// ErrorCodeHeader carries the errcode path of a failed request.
const ErrorCodeHeader = "X-Error-Code"

// NewRender returns the renderer used by all handlers.
func NewRender() *render.Render {
	return render.New(render.Options{
		IndentJSON: true,
	})
}

// ErrorResp writes err as a short text body. The status is taken from the
// errcode chain of err, 500 when err carries no code.
func ErrorResp(rd *render.Render, w http.ResponseWriter, err error) {
	if err == nil {
		log.Error("nil is given to errorResp")
		rd.Text(w, http.StatusInternalServerError, "nil error")
		return
	}
	if errCode := errcode.CodeChain(err); errCode != nil {
		w.Header().Set(ErrorCodeHeader, errCode.Code().CodeStr().String())
		rd.Text(w, errCode.Code().HTTPCode(), errCode.Error())
	} else {
		rd.Text(w, http.StatusInternalServerError, err.Error())
	}
}

// NewHandler wraps h with panic recovery, request logging and request
// metrics labelled by component.
func NewHandler(component string, h http.Handler) http.Handler {
	recovery := negroni.NewRecovery()
	recovery.PrintStack = false

	engine := negroni.New(recovery, requestObserver{component: component})
	engine.UseHandler(h)
	return engine
}

type requestObserver struct {
	component string
}

func (o requestObserver) ServeHTTP(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	start := time.Now()
	next(rw, r)

	status := http.StatusOK
	if nrw, ok := rw.(negroni.ResponseWriter); ok && nrw.Status() != 0 {
		status = nrw.Status()
	}
	elapsed := time.Since(start)
	code := strconv.Itoa(status)
	requestCounter.WithLabelValues(o.component, r.Method, code).Inc()
	requestDuration.WithLabelValues(o.component, r.Method).Observe(elapsed.Seconds())
	log.Debug("http request",
		zap.String("component", o.component),
		zap.String("method", r.Method),
		zap.String("uri", r.RequestURI),
		zap.Int("status", status),
		zap.Duration("cost", elapsed))
}
