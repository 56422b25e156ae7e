package server

import (
	"io/ioutil"
	"net/http"
	"net/url"
	"strconv"

	"github.com/eepycrawl/flamekv/kv/row"
	"github.com/eepycrawl/flamekv/pkg/apiutil"
	"github.com/gorilla/mux"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// VersionHeader carries the row version on cell reads and writes.
const VersionHeader = "Version"

const defaultDelimiter = ","

// pathVar returns an unescaped path variable. Routes match the escaped path
// so that keys may contain '/'.
func pathVar(r *http.Request, name string) (string, error) {
	v, err := url.PathUnescape(mux.Vars(r)[name])
	return v, errors.WithStack(err)
}

func pathVars(r *http.Request, names ...string) ([]string, error) {
	vals := make([]string, len(names))
	for i, name := range names {
		v, err := pathVar(r, name)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	return vals, nil
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := ioutil.ReadAll(http.MaxBytesReader(w, r.Body, int64(s.cfg.Server.MaxBodySize)))
	return body, errors.WithStack(err)
}

// delimiterParam returns the delimiter query parameter, "," when absent. An
// explicitly empty delimiter is kept.
func delimiterParam(r *http.Request) string {
	if vals, ok := r.URL.Query()["delimiter"]; ok && len(vals) > 0 {
		return vals[0]
	}
	return defaultDelimiter
}

func (s *Server) badRequest(w http.ResponseWriter, err error) {
	s.rd.Text(w, http.StatusBadRequest, err.Error())
}

func (s *Server) notFound(w http.ResponseWriter) {
	s.rd.Text(w, http.StatusNotFound, "Not found")
}

func (s *Server) handleGetRow(w http.ResponseWriter, r *http.Request) {
	vars, err := pathVars(r, "table", "row")
	if err != nil {
		s.badRequest(w, err)
		return
	}
	found, err := s.store.Get(vars[0], vars[1])
	if err != nil {
		apiutil.ErrorResp(s.rd, w, err)
		return
	}
	if found == nil {
		s.notFound(w)
		return
	}
	s.rd.Data(w, http.StatusOK, found.Encode())
}

func (s *Server) handleGetCell(w http.ResponseWriter, r *http.Request) {
	vars, err := pathVars(r, "table", "row", "column")
	if err != nil {
		s.badRequest(w, err)
		return
	}
	table, key, column := vars[0], vars[1], vars[2]

	var found *row.Row
	version := 0
	if v := r.URL.Query().Get("version"); v != "" {
		version, err = strconv.Atoi(v)
		if err != nil || version <= 0 {
			s.rd.Text(w, http.StatusBadRequest, "invalid version "+strconv.Quote(v))
			return
		}
		found, err = s.store.GetVersion(table, key, version)
	} else {
		version = s.store.Version(table, key)
		found, err = s.store.Get(table, key)
	}
	if err != nil {
		apiutil.ErrorResp(s.rd, w, err)
		return
	}
	if found == nil || !found.Has(column) {
		s.notFound(w)
		return
	}
	w.Header().Set(VersionHeader, strconv.Itoa(version))
	s.rd.Data(w, http.StatusOK, found.GetBytes(column))
}

// handlePutCell writes one cell. With ifcolumn and equals set the write only
// happens when the current value of ifcolumn equals the given value. The check
// and the write are not atomic with respect to other writers.
func (s *Server) handlePutCell(w http.ResponseWriter, r *http.Request) {
	vars, err := pathVars(r, "table", "row", "column")
	if err != nil {
		s.badRequest(w, err)
		return
	}
	table, key, column := vars[0], vars[1], vars[2]
	body, err := s.readBody(w, r)
	if err != nil {
		s.badRequest(w, err)
		return
	}

	query := r.URL.Query()
	if ifColumn := query.Get("ifcolumn"); ifColumn != "" {
		current, err := s.store.Get(table, key)
		if err != nil {
			apiutil.ErrorResp(s.rd, w, err)
			return
		}
		if current == nil || !current.Has(ifColumn) || string(current.GetBytes(ifColumn)) != query.Get("equals") {
			s.rd.Text(w, http.StatusPreconditionFailed, "FAIL")
			return
		}
	}

	version, err := s.store.Put(table, key, column, body)
	if err != nil {
		apiutil.ErrorResp(s.rd, w, err)
		return
	}
	s.replicas.forward(r, body)
	w.Header().Set(VersionHeader, strconv.Itoa(version))
	s.rd.Text(w, http.StatusOK, "OK")
}

func (s *Server) handleAppend(w http.ResponseWriter, r *http.Request) {
	vars, err := pathVars(r, "table", "row", "column")
	if err != nil {
		s.badRequest(w, err)
		return
	}
	body, err := s.readBody(w, r)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	version, err := s.store.Append(vars[0], vars[1], vars[2], body, delimiterParam(r))
	if err != nil {
		apiutil.ErrorResp(s.rd, w, err)
		return
	}
	s.replicas.forward(r, body)
	w.Header().Set(VersionHeader, strconv.Itoa(version))
	s.rd.Text(w, http.StatusOK, "OK")
}

func (s *Server) handlePutRow(w http.ResponseWriter, r *http.Request) {
	table, err := pathVar(r, "table")
	if err != nil {
		s.badRequest(w, err)
		return
	}
	body, err := s.readBody(w, r)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	decoded, err := row.Decode(body)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	if _, err = s.store.PutRow(table, decoded); err != nil {
		apiutil.ErrorResp(s.rd, w, err)
		return
	}
	s.replicas.forward(r, body)
	s.rd.Text(w, http.StatusOK, "OK")
}

// handleScan streams the rows of [startRow, endRowExclusive). Once the first
// row is written the status can no longer change, so a failing iterator only
// truncates the stream and the client sees a missing terminator.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	table, err := pathVar(r, "table")
	if err != nil {
		s.badRequest(w, err)
		return
	}
	query := r.URL.Query()
	it, err := s.store.Scan(table, query.Get("startRow"), query.Get("endRowExclusive"))
	if err != nil {
		apiutil.ErrorResp(s.rd, w, err)
		return
	}
	defer it.Close()

	w.Header().Set("Content-Type", "text/plain; charset=UTF-8")
	w.WriteHeader(http.StatusOK)
	rw := row.NewWriter(w)
	n := 0
	for ; it.Valid(); it.Next() {
		if err = rw.Write(it.Row()); err != nil {
			log.Warn("scan stream aborted", zap.String("table", table), zap.Error(err))
			return
		}
		n++
	}
	if err = it.Err(); err != nil {
		log.Error("scan failed", zap.String("table", table), zap.Int("rows", n), zap.Error(err))
		return
	}
	if err = rw.Close(); err != nil {
		log.Warn("scan stream aborted", zap.String("table", table), zap.Error(err))
	}
	scannedRowsCounter.Add(float64(n))
}
