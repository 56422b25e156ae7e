package server

import (
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/eepycrawl/flamekv/kv/storage"
	"github.com/eepycrawl/flamekv/pkg/apiutil"
)

const viewPageSize = 10

type tableInfo struct {
	Name string
	Rows int
}

type viewRow struct {
	Key    string
	Values []string
}

func (s *Server) handleTables(w http.ResponseWriter, r *http.Request) {
	tables, err := s.store.Tables()
	if err != nil {
		apiutil.ErrorResp(s.rd, w, err)
		return
	}
	infos := make([]tableInfo, 0, len(tables))
	for name, n := range tables {
		infos = append(infos, tableInfo{Name: name, Rows: n})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	s.rd.HTML(w, http.StatusOK, "tables", struct {
		ID     string
		Tables []tableInfo
	}{s.id, infos})
}

// handleView renders one page of a table with a column per distinct column
// name on the page.
func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	table, err := pathVar(r, "table")
	if err != nil {
		s.badRequest(w, err)
		return
	}
	rows, err := s.store.Rows(table, r.URL.Query().Get("fromRow"), viewPageSize)
	if err != nil {
		apiutil.ErrorResp(s.rd, w, err)
		return
	}
	next := ""
	if len(rows) > viewPageSize {
		next = rows[viewPageSize].Key()
		rows = rows[:viewPageSize]
	}

	seen := make(map[string]struct{})
	var columns []string
	for _, rw := range rows {
		for _, c := range rw.Columns() {
			if _, ok := seen[c]; !ok {
				seen[c] = struct{}{}
				columns = append(columns, c)
			}
		}
	}
	sort.Strings(columns)

	page := make([]viewRow, 0, len(rows))
	for _, rw := range rows {
		vr := viewRow{Key: rw.Key(), Values: make([]string, len(columns))}
		for i, c := range columns {
			vr.Values[i], _ = rw.Get(c)
		}
		page = append(page, vr)
	}
	s.rd.HTML(w, http.StatusOK, "view", struct {
		Table   string
		Columns []string
		Rows    []viewRow
		Next    string
	}{table, columns, page, next})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	table, err := pathVar(r, "table")
	if err != nil {
		s.badRequest(w, err)
		return
	}
	if err = s.store.Delete(table); err != nil {
		apiutil.ErrorResp(s.rd, w, err)
		return
	}
	s.replicas.forward(r, nil)
	s.rd.Text(w, http.StatusOK, "OK")
}

// handleRename takes the new name as the request body.
func (s *Server) handleRename(w http.ResponseWriter, r *http.Request) {
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
	if err = s.store.Rename(table, strings.TrimSpace(string(body))); err != nil {
		apiutil.ErrorResp(s.rd, w, err)
		return
	}
	s.replicas.forward(r, body)
	s.rd.Text(w, http.StatusOK, "OK")
}

// handleCount counts the whole table, or only [startRow, endRowExclusive)
// when either bound is given.
func (s *Server) handleCount(w http.ResponseWriter, r *http.Request) {
	table, err := pathVar(r, "table")
	if err != nil {
		s.badRequest(w, err)
		return
	}
	query := r.URL.Query()
	from, to := query.Get("startRow"), query.Get("endRowExclusive")
	if from == "" && to == "" {
		n := s.store.Count(table)
		if n < 0 {
			apiutil.ErrorResp(s.rd, w, storage.TableNotFoundErr{Table: table})
			return
		}
		s.rd.Text(w, http.StatusOK, strconv.Itoa(n))
		return
	}
	it, err := s.store.Scan(table, from, to)
	if err != nil {
		apiutil.ErrorResp(s.rd, w, err)
		return
	}
	defer it.Close()
	n := 0
	for ; it.Valid(); it.Next() {
		n++
	}
	if err = it.Err(); err != nil {
		apiutil.ErrorResp(s.rd, w, err)
		return
	}
	s.rd.Text(w, http.StatusOK, strconv.Itoa(n))
}
