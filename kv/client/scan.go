package client

import (
	"context"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"strconv"

	"github.com/eepycrawl/flamekv/coordinator"
	"github.com/eepycrawl/flamekv/kv/row"
	"github.com/pingcap/errors"
	"golang.org/x/sync/errgroup"
)

// KeyRange is a slice of the key space owned by one worker. An empty To is
// unbounded.
type KeyRange struct {
	Worker coordinator.Worker
	From   string
	To     string
}

// OwnedRanges splits the key space among the workers in key order. The last
// worker owns both the keys below the first ID and the keys from its own ID
// up, so it appears first and last.
func OwnedRanges(workers []coordinator.Worker) []KeyRange {
	if len(workers) == 0 {
		return nil
	}
	last := workers[len(workers)-1]
	ranges := []KeyRange{{Worker: last, From: "", To: workers[0].ID}}
	for i, w := range workers {
		to := ""
		if i+1 < len(workers) {
			to = workers[i+1].ID
		}
		ranges = append(ranges, KeyRange{Worker: w, From: w.ID, To: to})
	}
	return ranges
}

// clampRanges intersects the owned ranges with [from, to) and drops empty
// results.
func clampRanges(ranges []KeyRange, from, to string) []KeyRange {
	var out []KeyRange
	for _, r := range ranges {
		if from > r.From {
			r.From = from
		}
		if to != "" && (r.To == "" || to < r.To) {
			r.To = to
		}
		if r.To != "" && r.From >= r.To {
			continue
		}
		out = append(out, r)
	}
	return out
}

func (c *Client) rangesFor(ctx context.Context, from, to string) ([]KeyRange, error) {
	workers, err := c.Workers(ctx)
	if err != nil {
		return nil, err
	}
	return clampRanges(OwnedRanges(workers), from, to), nil
}

func rangeQuery(r KeyRange) url.Values {
	query := url.Values{}
	if r.From != "" {
		query.Set("startRow", r.From)
	}
	if r.To != "" {
		query.Set("endRowExclusive", r.To)
	}
	return query
}

// ScanIterator streams the rows of a table in key order, one worker range
// at a time. Workers without the table contribute nothing.
type ScanIterator struct {
	ctx    context.Context
	c      *Client
	table  string
	ranges []KeyRange

	body   io.ReadCloser
	reader *row.Reader
}

// Scan returns the rows of table with keys in [from, to). Empty bounds are
// unbounded. No request is sent before the first call to Next.
func (c *Client) Scan(ctx context.Context, table, from, to string) (*ScanIterator, error) {
	ranges, err := c.rangesFor(ctx, from, to)
	if err != nil {
		return nil, err
	}
	return &ScanIterator{ctx: ctx, c: c, table: table, ranges: ranges}, nil
}

// Next returns io.EOF after the last row.
func (it *ScanIterator) Next() (*row.Row, error) {
	for {
		if it.reader == nil {
			if len(it.ranges) == 0 {
				return nil, io.EOF
			}
			r := it.ranges[0]
			it.ranges = it.ranges[1:]
			if err := it.open(r); err != nil {
				return nil, err
			}
			continue
		}
		next, err := it.reader.Next()
		if err == io.EOF {
			it.closeBody()
			continue
		}
		if err != nil {
			it.closeBody()
			return nil, errors.Annotatef(err, "scan %s", it.table)
		}
		return next, nil
	}
}

func (it *ScanIterator) open(r KeyRange) error {
	u := workerURL(r.Worker, "/data"+escape(it.table), rangeQuery(r))
	req, err := http.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return errors.WithStack(err)
	}
	resp, err := it.c.hc.Do(req.WithContext(it.ctx))
	if err != nil {
		return errors.Annotatef(err, "scan %s on %s", it.table, r.Worker.Addr)
	}
	switch resp.StatusCode {
	case http.StatusOK:
		it.body = resp.Body
		it.reader = row.NewReader(resp.Body)
		return nil
	case http.StatusNotFound:
		resp.Body.Close()
		return nil
	}
	defer resp.Body.Close()
	body, _ := ioutil.ReadAll(resp.Body)
	return statusError(it.table, resp.StatusCode, body)
}

func (it *ScanIterator) closeBody() {
	if it.body != nil {
		it.body.Close()
	}
	it.body = nil
	it.reader = nil
}

func (it *ScanIterator) Close() {
	it.closeBody()
	it.ranges = nil
}

// ScanAll collects a whole range into memory.
func (c *Client) ScanAll(ctx context.Context, table, from, to string) ([]*row.Row, error) {
	it, err := c.Scan(ctx, table, from, to)
	if err != nil {
		return nil, err
	}
	defer it.Close()
	var rows []*row.Row
	for {
		r, err := it.Next()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, r)
	}
}

// Count sums the rows each worker holds inside the range it owns, so
// replicated copies are not counted twice. A table no worker knows is
// reported as not found.
func (c *Client) Count(ctx context.Context, table string) (int, error) {
	ranges, err := c.rangesFor(ctx, "", "")
	if err != nil {
		return 0, err
	}
	counts := make([]int, len(ranges))
	found := make([]bool, len(ranges))
	g, gctx := errgroup.WithContext(ctx)
	for i, r := range ranges {
		i, r := i, r
		g.Go(func() error {
			status, _, body, err := c.do(gctx, http.MethodGet, workerURL(r.Worker, "/count"+escape(table), rangeQuery(r)), nil)
			if err != nil {
				return err
			}
			switch status {
			case http.StatusOK:
				n, err := strconv.Atoi(string(body))
				if err != nil {
					return errors.Annotatef(err, "bad count from %s", r.Worker.Addr)
				}
				counts[i], found[i] = n, true
				return nil
			case http.StatusNotFound:
				return nil
			}
			return statusError(table, status, body)
		})
	}
	if err = g.Wait(); err != nil {
		return 0, err
	}
	total, exists := 0, false
	for i := range counts {
		total += counts[i]
		exists = exists || found[i]
	}
	if !exists {
		return 0, statusError(table, http.StatusNotFound, nil)
	}
	return total, nil
}

// broadcast sends the request to every worker as a replica write so workers
// do not forward it again. A table missing on some workers is fine; missing
// everywhere is reported as not found.
func (c *Client) broadcast(ctx context.Context, table, path string, body []byte) error {
	workers, err := c.Workers(ctx)
	if err != nil {
		return err
	}
	query := url.Values{"replica": {"true"}}
	statuses := make([]int, len(workers))
	bodies := make([][]byte, len(workers))
	g, gctx := errgroup.WithContext(ctx)
	for i, w := range workers {
		i, w := i, w
		g.Go(func() error {
			status, _, respBody, err := c.do(gctx, http.MethodPut, workerURL(w, path, query), body)
			statuses[i], bodies[i] = status, respBody
			return err
		})
	}
	if err = g.Wait(); err != nil {
		return err
	}
	ok := false
	for i, status := range statuses {
		switch status {
		case http.StatusOK:
			ok = true
		case http.StatusNotFound:
		default:
			return statusError(table, status, bodies[i])
		}
	}
	if !ok {
		return statusError(table, http.StatusNotFound, nil)
	}
	return nil
}

func (c *Client) Delete(ctx context.Context, table string) error {
	return c.broadcast(ctx, table, "/delete"+escape(table), nil)
}

func (c *Client) Rename(ctx context.Context, table, newName string) error {
	return c.broadcast(ctx, table, "/rename"+escape(table), []byte(newName))
}
