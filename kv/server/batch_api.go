package server

import (
	"net/http"

	"github.com/eepycrawl/flamekv/kv/row"
	"github.com/eepycrawl/flamekv/pkg/apiutil"
)

// Batch writes apply cells in order and stop at the first failure; cells
// written before it stay written.

func (s *Server) handleBatchPut(w http.ResponseWriter, r *http.Request) {
	s.batchWrite(w, r, func(table string, c row.Cell) error {
		_, err := s.store.Put(table, c.Row, c.Column, c.Value)
		return err
	})
}

func (s *Server) handleBatchAppend(w http.ResponseWriter, r *http.Request) {
	delimiter := delimiterParam(r)
	s.batchWrite(w, r, func(table string, c row.Cell) error {
		_, err := s.store.Append(table, c.Row, c.Column, c.Value, delimiter)
		return err
	})
}

func (s *Server) batchWrite(w http.ResponseWriter, r *http.Request, apply func(table string, c row.Cell) error) {
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
	cells, err := row.DecodeCells(body)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	for _, c := range cells {
		if err = apply(table, c); err != nil {
			apiutil.ErrorResp(s.rd, w, err)
			return
		}
	}
	batchCellsHistogram.Observe(float64(len(cells)))
	s.replicas.forward(r, body)
	s.rd.Text(w, http.StatusOK, "OK")
}

// handleBatchGet answers one value per requested key, NullValue for keys
// whose row or column is missing.
func (s *Server) handleBatchGet(w http.ResponseWriter, r *http.Request) {
	vars, err := pathVars(r, "table", "column")
	if err != nil {
		s.badRequest(w, err)
		return
	}
	table, column := vars[0], vars[1]
	body, err := s.readBody(w, r)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	keys := row.DecodeKeys(body)
	values := make([][]byte, len(keys))
	for i, key := range keys {
		found, err := s.store.Get(table, key)
		if err != nil {
			apiutil.ErrorResp(s.rd, w, err)
			return
		}
		if found != nil && found.Has(column) {
			v := found.GetBytes(column)
			if v == nil {
				v = []byte{}
			}
			values[i] = v
		}
	}
	s.rd.Data(w, http.StatusOK, row.EncodeValues(values))
}
