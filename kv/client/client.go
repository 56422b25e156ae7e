// Package client talks to a KVS cluster: it learns the workers from the
// coordinator and routes every request to the worker owning the row key.
package client

import (
	"bytes"
	"context"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/eepycrawl/flamekv/coordinator"
	"github.com/eepycrawl/flamekv/kv/row"
	"github.com/eepycrawl/flamekv/kv/storage"
	"github.com/pingcap/errors"
)

// DefaultRefreshInterval is how long a fetched worker list is trusted.
const DefaultRefreshInterval = 5 * time.Second

// ErrNoWorkers is returned when the coordinator knows no live worker.
var ErrNoWorkers = errors.New("no kvs workers available")

// Client is safe for concurrent use.
type Client struct {
	coordinator string
	hc          *http.Client

	// RefreshInterval bounds the age of the cached worker list. Zero means
	// the list is fetched before every operation.
	RefreshInterval time.Duration

	mu        sync.RWMutex
	workers   []coordinator.Worker
	fetchedAt time.Time
}

func New(coordinatorAddr string) *Client {
	return NewWithHTTPClient(coordinatorAddr, &http.Client{})
}

func NewWithHTTPClient(coordinatorAddr string, hc *http.Client) *Client {
	return &Client{
		coordinator:     coordinatorAddr,
		hc:              hc,
		RefreshInterval: DefaultRefreshInterval,
	}
}

func (c *Client) Coordinator() string {
	return c.coordinator
}

// Refresh fetches the worker list from the coordinator.
func (c *Client) Refresh(ctx context.Context) error {
	workers, err := coordinator.FetchWorkers(ctx, c.hc, c.coordinator)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.workers = workers
	c.fetchedAt = time.Now()
	c.mu.Unlock()
	return nil
}

// Workers returns the live workers sorted by ID, refreshing a stale list.
func (c *Client) Workers(ctx context.Context) ([]coordinator.Worker, error) {
	c.mu.RLock()
	fresh := c.workers != nil && time.Since(c.fetchedAt) < c.RefreshInterval
	workers := c.workers
	c.mu.RUnlock()
	if !fresh {
		if err := c.Refresh(ctx); err != nil {
			return nil, err
		}
		c.mu.RLock()
		workers = c.workers
		c.mu.RUnlock()
	}
	if len(workers) == 0 {
		return nil, ErrNoWorkers
	}
	return workers, nil
}

// WorkerIndexForKey returns the worker owning key: worker i owns
// [id_i, id_i+1) and the last worker also owns every key below id_0.
func WorkerIndexForKey(workers []coordinator.Worker, key string) int {
	i := sort.Search(len(workers), func(i int) bool { return workers[i].ID > key })
	if i == 0 {
		return len(workers) - 1
	}
	return i - 1
}

func (c *Client) workerFor(ctx context.Context, key string) (coordinator.Worker, error) {
	workers, err := c.Workers(ctx)
	if err != nil {
		return coordinator.Worker{}, err
	}
	return workers[WorkerIndexForKey(workers, key)], nil
}

func escape(segments ...string) string {
	var b strings.Builder
	for _, s := range segments {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(s))
	}
	return b.String()
}

func workerURL(w coordinator.Worker, path string, query url.Values) string {
	u := "http://" + w.Addr + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// do sends one request and returns the status and body. The body is read
// fully.
func (c *Client) do(ctx context.Context, method, u string, body []byte) (int, http.Header, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, u, reader)
	if err != nil {
		return 0, nil, nil, errors.WithStack(err)
	}
	resp, err := c.hc.Do(req.WithContext(ctx))
	if err != nil {
		return 0, nil, nil, errors.WithStack(err)
	}
	defer resp.Body.Close()
	data, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, nil, errors.WithStack(err)
	}
	return resp.StatusCode, resp.Header, data, nil
}

// statusError maps a failed response to the storage error it stands for.
func statusError(table string, status int, body []byte) error {
	switch status {
	case http.StatusNotFound:
		return storage.TableNotFoundErr{Table: table}
	case http.StatusConflict:
		return storage.TableExistsErr{Table: table}
	case http.StatusBadRequest:
		return storage.WrongNameFormatErr{Table: table, Reason: strings.TrimSpace(string(body))}
	}
	return errors.Errorf("kvs request failed with status %d: %s", status, bytes.TrimSpace(body))
}

func (c *Client) Put(ctx context.Context, table, key, column string, value []byte) error {
	w, err := c.workerFor(ctx, key)
	if err != nil {
		return err
	}
	status, _, body, err := c.do(ctx, http.MethodPut, workerURL(w, "/data"+escape(table, key, column), nil), value)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return statusError(table, status, body)
	}
	return nil
}

// PutIf writes the cell only when column ifColumn currently equals equals.
// It reports whether the write happened.
func (c *Client) PutIf(ctx context.Context, table, key, column string, value []byte, ifColumn, equals string) (bool, error) {
	w, err := c.workerFor(ctx, key)
	if err != nil {
		return false, err
	}
	query := url.Values{"ifcolumn": {ifColumn}, "equals": {equals}}
	status, _, body, err := c.do(ctx, http.MethodPut, workerURL(w, "/data"+escape(table, key, column), query), value)
	if err != nil {
		return false, err
	}
	switch status {
	case http.StatusOK:
		return true, nil
	case http.StatusPreconditionFailed:
		return false, nil
	}
	return false, statusError(table, status, body)
}

func (c *Client) Append(ctx context.Context, table, key, column string, value []byte, delimiter string) error {
	w, err := c.workerFor(ctx, key)
	if err != nil {
		return err
	}
	query := url.Values{"delimiter": {delimiter}}
	status, _, body, err := c.do(ctx, http.MethodPut, workerURL(w, "/append"+escape(table, key, column), query), value)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return statusError(table, status, body)
	}
	return nil
}

func (c *Client) PutRow(ctx context.Context, table string, r *row.Row) error {
	w, err := c.workerFor(ctx, r.Key())
	if err != nil {
		return err
	}
	status, _, body, err := c.do(ctx, http.MethodPut, workerURL(w, "/data"+escape(table), nil), r.Encode())
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return statusError(table, status, body)
	}
	return nil
}

// Get returns nil, nil when the table, row or column is missing.
func (c *Client) Get(ctx context.Context, table, key, column string) ([]byte, error) {
	w, err := c.workerFor(ctx, key)
	if err != nil {
		return nil, err
	}
	status, _, body, err := c.do(ctx, http.MethodGet, workerURL(w, "/data"+escape(table, key, column), nil), nil)
	if err != nil {
		return nil, err
	}
	switch status {
	case http.StatusOK:
		return body, nil
	case http.StatusNotFound:
		return nil, nil
	}
	return nil, statusError(table, status, body)
}

// GetVersion reads a historical version of a cell. Tables on disk keep no
// history and answer with the latest value.
func (c *Client) GetVersion(ctx context.Context, table, key, column string, version int) ([]byte, int, error) {
	w, err := c.workerFor(ctx, key)
	if err != nil {
		return nil, 0, err
	}
	query := url.Values{"version": {strconv.Itoa(version)}}
	status, header, body, err := c.do(ctx, http.MethodGet, workerURL(w, "/data"+escape(table, key, column), query), nil)
	if err != nil {
		return nil, 0, err
	}
	switch status {
	case http.StatusOK:
		v, _ := strconv.Atoi(header.Get("Version"))
		return body, v, nil
	case http.StatusNotFound:
		return nil, 0, nil
	}
	return nil, 0, statusError(table, status, body)
}

// GetRow returns nil, nil when the table or row is missing.
func (c *Client) GetRow(ctx context.Context, table, key string) (*row.Row, error) {
	w, err := c.workerFor(ctx, key)
	if err != nil {
		return nil, err
	}
	status, _, body, err := c.do(ctx, http.MethodGet, workerURL(w, "/data"+escape(table, key), nil), nil)
	if err != nil {
		return nil, err
	}
	switch status {
	case http.StatusOK:
		return row.Decode(body)
	case http.StatusNotFound:
		return nil, nil
	}
	return nil, statusError(table, status, body)
}

func (c *Client) Exists(ctx context.Context, table, key string) (bool, error) {
	r, err := c.GetRow(ctx, table, key)
	return r != nil, err
}
