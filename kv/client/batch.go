package client

import (
	"context"
	"net/http"
	"net/url"

	"github.com/eepycrawl/flamekv/coordinator"
	"github.com/eepycrawl/flamekv/kv/row"
	"github.com/pingcap/errors"
	"golang.org/x/sync/errgroup"
)

// groupByWorker splits keys by owning worker, keeping each key's position
// in the input.
func groupByWorker(workers []coordinator.Worker, n int, keyAt func(i int) string) map[int][]int {
	groups := make(map[int][]int)
	for i := 0; i < n; i++ {
		w := WorkerIndexForKey(workers, keyAt(i))
		groups[w] = append(groups[w], i)
	}
	return groups
}

// BatchPut writes cells with one request per owning worker, sent in
// parallel.
func (c *Client) BatchPut(ctx context.Context, table string, cells []row.Cell) error {
	return c.batchWrite(ctx, table, "/batch/put"+escape(table), nil, cells)
}

// BatchAppend appends cells with one request per owning worker.
func (c *Client) BatchAppend(ctx context.Context, table string, cells []row.Cell, delimiter string) error {
	return c.batchWrite(ctx, table, "/batch/append"+escape(table), url.Values{"delimiter": {delimiter}}, cells)
}

func (c *Client) batchWrite(ctx context.Context, table, path string, query url.Values, cells []row.Cell) error {
	if len(cells) == 0 {
		return nil
	}
	workers, err := c.Workers(ctx)
	if err != nil {
		return err
	}
	groups := groupByWorker(workers, len(cells), func(i int) string { return cells[i].Row })
	g, gctx := errgroup.WithContext(ctx)
	for w, idx := range groups {
		worker := workers[w]
		part := make([]row.Cell, len(idx))
		for j, i := range idx {
			part[j] = cells[i]
		}
		g.Go(func() error {
			status, _, body, err := c.do(gctx, http.MethodPut, workerURL(worker, path, query), row.EncodeCells(part))
			if err != nil {
				return err
			}
			if status != http.StatusOK {
				return statusError(table, status, body)
			}
			return nil
		})
	}
	return g.Wait()
}

// BatchGet reads one column of many rows. The result is aligned with keys;
// missing cells are nil.
func (c *Client) BatchGet(ctx context.Context, table, column string, keys []string) ([][]byte, error) {
	values := make([][]byte, len(keys))
	if len(keys) == 0 {
		return values, nil
	}
	workers, err := c.Workers(ctx)
	if err != nil {
		return nil, err
	}
	groups := groupByWorker(workers, len(keys), func(i int) string { return keys[i] })
	g, gctx := errgroup.WithContext(ctx)
	for w, idx := range groups {
		worker, idx := workers[w], idx
		part := make([]string, len(idx))
		for j, i := range idx {
			part[j] = keys[i]
		}
		g.Go(func() error {
			u := workerURL(worker, "/batch/get"+escape(table, column), nil)
			status, _, body, err := c.do(gctx, http.MethodPost, u, row.EncodeKeys(part))
			if err != nil {
				return err
			}
			if status != http.StatusOK {
				return statusError(table, status, body)
			}
			got, err := row.DecodeValues(body, len(part))
			if err != nil {
				return errors.Annotatef(err, "batch get from %s", worker.Addr)
			}
			for j, i := range idx {
				values[i] = got[j]
			}
			return nil
		})
	}
	if err = g.Wait(); err != nil {
		return nil, err
	}
	return values, nil
}
