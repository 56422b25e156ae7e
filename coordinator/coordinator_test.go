package coordinator

import (
	"context"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/eepycrawl/flamekv/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMembershipEviction(t *testing.T) {
	m := NewMembership(150 * time.Second)
	now := time.Unix(1000, 0)
	m.now = func() time.Time { return now }

	m.Ping("bbbbb", "10.0.0.2:8001")
	m.Ping("aaaaa", "10.0.0.1:8001")
	assert.Equal(t, []Worker{{"aaaaa", "10.0.0.1:8001"}, {"bbbbb", "10.0.0.2:8001"}}, m.Workers())

	now = now.Add(100 * time.Second)
	m.Ping("aaaaa", "10.0.0.1:8001")
	now = now.Add(100 * time.Second)
	// bbbbb last pinged 200s ago and is gone; aaaaa pinged 100s ago.
	assert.Equal(t, []Worker{{"aaaaa", "10.0.0.1:8001"}}, m.Workers())

	// A worker that pings again reappears.
	m.Ping("bbbbb", "10.0.0.2:8002")
	assert.Equal(t, 2, m.Len())
	assert.Equal(t, "10.0.0.2:8002", m.Workers()[1].Addr)
}

func TestWorkersFormat(t *testing.T) {
	workers := []Worker{{"abcde", "127.0.0.1:1"}, {"fghij", "127.0.0.1:2"}}
	body := FormatWorkers(workers)
	assert.Equal(t, "2\nabcde,127.0.0.1:1\nfghij,127.0.0.1:2\n", body)
	parsed, err := ParseWorkers(body)
	require.Nil(t, err)
	assert.Equal(t, workers, parsed)

	parsed, err = ParseWorkers("0\n")
	require.Nil(t, err)
	assert.Empty(t, parsed)

	_, err = ParseWorkers("2\nabcde,127.0.0.1:1\n")
	assert.NotNil(t, err)
	_, err = ParseWorkers("x\n")
	assert.NotNil(t, err)
	_, err = ParseWorkers("1\nnocomma\n")
	assert.NotNil(t, err)
}

func get(t *testing.T, url string) (int, string) {
	resp, err := http.Get(url)
	require.Nil(t, err)
	defer resp.Body.Close()
	body, err := ioutil.ReadAll(resp.Body)
	require.Nil(t, err)
	return resp.StatusCode, string(body)
}

func TestServerEndpoints(t *testing.T) {
	s := NewServer("kvs-coordinator", time.Minute)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	code, _ := get(t, ts.URL+"/ping?id=abcde")
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = get(t, ts.URL+"/ping?id=abcde&port=x")
	assert.Equal(t, http.StatusBadRequest, code)
	code, body := get(t, ts.URL+"/ping?id=abcde&port=8001")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "OK", body)

	code, body = get(t, ts.URL+"/workers")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "1\nabcde,127.0.0.1:8001\n", body)

	code, body = get(t, ts.URL+"/")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "abcde")
	assert.Contains(t, body, "127.0.0.1:8001")

	code, body = get(t, ts.URL+"/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, strings.Contains(body, "flamekv_coordinator_workers"))
}

func TestHeartbeat(t *testing.T) {
	s := NewServer("hb", time.Minute)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()
	addr := strings.TrimPrefix(ts.URL, "http://")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunHeartbeat(ctx, http.DefaultClient, addr, "zzzzz", 9000, 10*time.Millisecond)
		close(done)
	}()

	testutil.WaitUntil(t, func() bool { return s.Membership().Len() == 1 })
	workers, err := FetchWorkers(context.Background(), http.DefaultClient, addr)
	require.Nil(t, err)
	assert.Equal(t, []Worker{{"zzzzz", "127.0.0.1:9000"}}, workers)

	cancel()
	<-done
}

func TestRunAndClose(t *testing.T) {
	s := NewServer("run", time.Minute)
	require.Nil(t, s.Run(context.Background(), "127.0.0.1:0"))
	require.NotEqual(t, "", s.Addr())

	require.Nil(t, Ping(context.Background(), http.DefaultClient, s.Addr(), "qqqqq", 9001))
	assert.Equal(t, 1, s.Membership().Len())

	s.Close()
	_, err := http.Get("http://" + s.Addr() + "/workers")
	assert.NotNil(t, err)
}
