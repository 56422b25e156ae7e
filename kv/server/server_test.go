package server

import (
	"bytes"
	"context"
	"io"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/eepycrawl/flamekv/coordinator"
	"github.com/eepycrawl/flamekv/kv/config"
	"github.com/eepycrawl/flamekv/kv/row"
	"github.com/eepycrawl/flamekv/pkg/testutil"
	"github.com/pingcap/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server, func()) {
	dir, err := ioutil.TempDir("", "flamekv-server")
	require.Nil(t, err)
	cfg := config.NewTestConfig()
	cfg.Storage.DataDir = dir
	s, err := NewServer(cfg)
	require.Nil(t, err)
	ts := httptest.NewServer(s.Handler())
	return s, ts, func() {
		ts.Close()
		s.Close()
		os.RemoveAll(dir)
	}
}

func do(t *testing.T, method, url string, body []byte) (*http.Response, string) {
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	require.Nil(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.Nil(t, err)
	defer resp.Body.Close()
	data, err := ioutil.ReadAll(resp.Body)
	require.Nil(t, err)
	return resp, string(data)
}

func TestWorkerID(t *testing.T) {
	dir, err := ioutil.TempDir("", "flamekv-id")
	require.Nil(t, err)
	defer os.RemoveAll(dir)

	id, err := loadOrCreateID(dir)
	require.Nil(t, err)
	assert.Len(t, id, 5)
	again, err := loadOrCreateID(dir)
	require.Nil(t, err)
	assert.Equal(t, id, again)

	require.Nil(t, ioutil.WriteFile(dir+"/id", []byte("BAD!"), 0644))
	_, err = loadOrCreateID(dir)
	assert.NotNil(t, err)
}

func TestCellAPI(t *testing.T) {
	_, ts, clean := newTestServer(t)
	defer clean()

	resp, body := do(t, "GET", ts.URL+"/data/t1/r1/c1", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = do(t, "PUT", ts.URL+"/data/t1/a%2Fb/c1", []byte("hello"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", body)
	assert.Equal(t, "1", resp.Header.Get(VersionHeader))

	resp, body = do(t, "GET", ts.URL+"/data/t1/a%2Fb/c1", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "hello", body)
	assert.Equal(t, "1", resp.Header.Get(VersionHeader))

	resp, _ = do(t, "PUT", ts.URL+"/data/t1/a%2Fb/c1", []byte("world"))
	assert.Equal(t, "2", resp.Header.Get(VersionHeader))
	resp, body = do(t, "GET", ts.URL+"/data/t1/a%2Fb/c1?version=1", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "hello", body)
	resp, _ = do(t, "GET", ts.URL+"/data/t1/a%2Fb/c1?version=x", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Conditional put.
	resp, body = do(t, "PUT", ts.URL+"/data/t1/a%2Fb/c2?ifcolumn=c1&equals=nope", []byte("x"))
	assert.Equal(t, http.StatusPreconditionFailed, resp.StatusCode)
	assert.Equal(t, "FAIL", body)
	resp, _ = do(t, "GET", ts.URL+"/data/t1/a%2Fb/c2", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = do(t, "PUT", ts.URL+"/data/t1/a%2Fb/c2?ifcolumn=c1&equals=world", []byte("x"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Append with the default and an explicit delimiter.
	do(t, "PUT", ts.URL+"/append/t1/r/c", []byte("a"))
	do(t, "PUT", ts.URL+"/append/t1/r/c", []byte("b"))
	do(t, "PUT", ts.URL+"/append/t1/r/c?delimiter=%7C", []byte("c"))
	_, body = do(t, "GET", ts.URL+"/data/t1/r/c", nil)
	assert.Equal(t, "a,b|c", body)

	resp, body = do(t, "GET", ts.URL+"/data/t1/r", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	decoded, err := row.Decode([]byte(body))
	require.Nil(t, err)
	assert.Equal(t, "r", decoded.Key())

	resp, _ = do(t, "PUT", ts.URL+"/data/bad%2Fname/r/c", []byte("x"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestScanAndCount(t *testing.T) {
	_, ts, clean := newTestServer(t)
	defer clean()

	resp, _ := do(t, "GET", ts.URL+"/data/t", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = do(t, "GET", ts.URL+"/count/t", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	for _, k := range []string{"a", "b", "c", "d"} {
		r := row.New(k)
		r.PutString("v", k+k)
		resp, _ = do(t, "PUT", ts.URL+"/data/t", r.Encode())
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp, body := do(t, "GET", ts.URL+"/data/t?startRow=b&endRowExclusive=d", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rd := row.NewReader(strings.NewReader(body))
	var keys []string
	for {
		r, err := rd.Next()
		if err != nil {
			break
		}
		keys = append(keys, r.Key())
	}
	assert.Equal(t, []string{"b", "c"}, keys)
	assert.True(t, strings.HasSuffix(body, "\n\n"))

	_, body = do(t, "GET", ts.URL+"/count/t", nil)
	assert.Equal(t, "4", body)
	_, body = do(t, "GET", ts.URL+"/count/t?startRow=c", nil)
	assert.Equal(t, "2", body)
	_, body = do(t, "GET", ts.URL+"/count/t?endRowExclusive=b", nil)
	assert.Equal(t, "1", body)
}

func TestScanFailsMidStream(t *testing.T) {
	s, ts, clean := newTestServer(t)
	defer clean()

	for _, k := range []string{"k1", "k2", "k3"} {
		resp, _ := do(t, "PUT", ts.URL+"/data/pt-src/"+k+"/name", []byte("v"+k))
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	require.Nil(t, ioutil.WriteFile(filepath.Join(s.cfg.Storage.DataDir, "pt-src", "k2"), []byte("k2 name abc "), 0644))

	resp, body := do(t, "GET", ts.URL+"/data/pt-src", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(body, "k1 "))
	assert.False(t, strings.HasSuffix(body, "\n\n"))

	rd := row.NewReader(strings.NewReader(body))
	r, err := rd.Next()
	require.Nil(t, err)
	assert.Equal(t, "k1", r.Key())
	_, err = rd.Next()
	assert.Equal(t, io.ErrUnexpectedEOF, errors.Cause(err))
}

func TestBatchAPI(t *testing.T) {
	_, ts, clean := newTestServer(t)
	defer clean()

	cells := []row.Cell{
		{Row: "r1", Column: "c", Value: []byte("1")},
		{Row: "r2", Column: "c", Value: []byte("2")},
	}
	resp, _ := do(t, "PUT", ts.URL+"/batch/put/t", row.EncodeCells(cells))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = do(t, "PUT", ts.URL+"/batch/append/t?delimiter=%2B", row.EncodeCells(cells[:1]))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := do(t, "POST", ts.URL+"/batch/get/t/c", row.EncodeKeys([]string{"r1", "missing", "r2"}))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	values, err := row.DecodeValues([]byte(body), 3)
	require.Nil(t, err)
	assert.Equal(t, "1+1", string(values[0]))
	assert.Nil(t, values[1])
	assert.Equal(t, "2", string(values[2]))

	resp, _ = do(t, "PUT", ts.URL+"/batch/put/t", []byte("no separators"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTableAPI(t *testing.T) {
	_, ts, clean := newTestServer(t)
	defer clean()

	for _, k := range []string{"k1", "k2"} {
		do(t, "PUT", ts.URL+"/data/src/"+k+"/col", []byte("v"))
	}
	do(t, "PUT", ts.URL+"/data/other/k/col", []byte("v"))

	_, body := do(t, "GET", ts.URL+"/", nil)
	assert.Contains(t, body, "src")
	assert.Contains(t, body, "other")
	_, body = do(t, "GET", ts.URL+"/view/src", nil)
	assert.Contains(t, body, "k1")
	assert.Contains(t, body, "col")

	resp, _ := do(t, "PUT", ts.URL+"/rename/src", []byte("other"))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp, _ = do(t, "PUT", ts.URL+"/rename/nothing", []byte("x"))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = do(t, "PUT", ts.URL+"/rename/src", []byte("pt-dst"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_, body = do(t, "GET", ts.URL+"/count/pt-dst", nil)
	assert.Equal(t, "2", body)

	resp, _ = do(t, "PUT", ts.URL+"/delete/pt-dst", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = do(t, "PUT", ts.URL+"/delete/pt-dst", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestChooseReplicas(t *testing.T) {
	workers := []coordinator.Worker{{ID: "aaaaa"}, {ID: "ccccc"}, {ID: "eeeee"}, {ID: "ggggg"}}
	ids := func(ws []coordinator.Worker) []string {
		var out []string
		for _, w := range ws {
			out = append(out, w.ID)
		}
		return out
	}
	assert.Equal(t, []string{"ccccc", "aaaaa"}, ids(chooseReplicas(workers, "eeeee", 2)))
	assert.Equal(t, []string{"aaaaa", "ggggg"}, ids(chooseReplicas(workers, "ccccc", 2)))
	assert.Equal(t, []string{"ggggg", "eeeee"}, ids(chooseReplicas(workers, "aaaaa", 2)))
	assert.Equal(t, []string{"eeeee"}, ids(chooseReplicas(workers, "ggggg", 1)))
	assert.Empty(t, chooseReplicas(workers[:1], "aaaaa", 2))
}

func TestReplication(t *testing.T) {
	coord := coordinator.NewServer("kvs-coordinator", time.Minute)
	cs := httptest.NewServer(coord.Handler())
	defer cs.Close()

	var servers []*Server
	for i := 0; i < 2; i++ {
		dir, err := ioutil.TempDir("", "flamekv-replica")
		require.Nil(t, err)
		defer os.RemoveAll(dir)
		cfg := config.NewTestConfig()
		cfg.Storage.DataDir = dir
		cfg.Storage.Replicas = 1
		cfg.Server.Coordinator = strings.TrimPrefix(cs.URL, "http://")
		s, err := NewServer(cfg)
		require.Nil(t, err)
		require.Nil(t, s.Run(context.Background()))
		defer s.Close()
		servers = append(servers, s)
	}
	if servers[0].ID() == servers[1].ID() {
		t.Skip("generated the same worker id twice")
	}

	testutil.WaitUntil(t, func() bool {
		return len(servers[0].replicas.Replicas()) == 1 && len(servers[1].replicas.Replicas()) == 1
	})

	resp, _ := do(t, "PUT", "http://"+servers[0].Addr()+"/data/t/k/c", []byte("v"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	testutil.WaitUntil(t, func() bool {
		r, err := servers[1].Store().Get("t", "k")
		return err == nil && r != nil
	})

	// Replica writes are not forwarded back.
	resp, _ = do(t, "PUT", "http://"+servers[1].Addr()+"/data/t2/k/c?replica=true", []byte("v"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	time.Sleep(100 * time.Millisecond)
	r, err := servers[0].Store().Get("t2", "k")
	require.Nil(t, err)
	assert.Nil(t, r)
}
