package coordinator

import (
	"bufio"
	"context"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// FormatWorkers renders the /workers body: the count, then one `id,addr`
// line per worker.
func FormatWorkers(workers []Worker) string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(len(workers)))
	b.WriteByte('\n')
	for _, w := range workers {
		b.WriteString(w.ID)
		b.WriteByte(',')
		b.WriteString(w.Addr)
		b.WriteByte('\n')
	}
	return b.String()
}

// ParseWorkers parses a /workers body.
func ParseWorkers(body string) ([]Worker, error) {
	sc := bufio.NewScanner(strings.NewReader(body))
	if !sc.Scan() {
		return nil, errors.New("empty worker list")
	}
	n, err := strconv.Atoi(strings.TrimSpace(sc.Text()))
	if err != nil || n < 0 {
		return nil, errors.Errorf("invalid worker count %q", sc.Text())
	}
	workers := make([]Worker, 0, n)
	for i := 0; i < n; i++ {
		if !sc.Scan() {
			return nil, errors.Errorf("worker list truncated at %d of %d", i, n)
		}
		parts := strings.SplitN(strings.TrimSpace(sc.Text()), ",", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, errors.Errorf("invalid worker line %q", sc.Text())
		}
		workers = append(workers, Worker{ID: parts[0], Addr: parts[1]})
	}
	return workers, nil
}

// FetchWorkers reads the live membership from a coordinator.
func FetchWorkers(ctx context.Context, hc *http.Client, coordinator string) ([]Worker, error) {
	req, err := http.NewRequest(http.MethodGet, "http://"+coordinator+"/workers", nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	resp, err := hc.Do(req.WithContext(ctx))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer resp.Body.Close()
	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("http get %s/workers return code %d", coordinator, resp.StatusCode)
	}
	return ParseWorkers(string(body))
}

// Ping sends one heartbeat.
func Ping(ctx context.Context, hc *http.Client, coordinator, id string, port int) error {
	q := url.Values{}
	q.Set("id", id)
	q.Set("port", strconv.Itoa(port))
	req, err := http.NewRequest(http.MethodGet, fmt.Sprintf("http://%s/ping?%s", coordinator, q.Encode()), nil)
	if err != nil {
		return errors.WithStack(err)
	}
	resp, err := hc.Do(req.WithContext(ctx))
	if err != nil {
		return errors.WithStack(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("ping %s return code %d", coordinator, resp.StatusCode)
	}
	return nil
}

// RunHeartbeat pings the coordinator right away and then every interval
// until ctx is done. Failures are logged and retried on the next tick.
func RunHeartbeat(ctx context.Context, hc *http.Client, coordinator, id string, port int, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := Ping(ctx, hc, coordinator, id, port); err != nil && ctx.Err() == nil {
			log.Warn("heartbeat failed",
				zap.String("coordinator", coordinator),
				zap.String("id", id),
				zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
