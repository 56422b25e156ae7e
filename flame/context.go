// Package flame is the driver side of the Flame engine. A Context turns RDD
// operations into requests that run on every Flame worker in parallel, one
// KVS key range each.
package flame

import (
	"bytes"
	"context"
	"io/ioutil"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/eepycrawl/flamekv/coordinator"
	"github.com/eepycrawl/flamekv/flame/lambda"
	"github.com/eepycrawl/flamekv/flame/partitioner"
	"github.com/eepycrawl/flamekv/kv/client"
	"github.com/eepycrawl/flamekv/kv/util/hasher"
	"github.com/montanaflynn/stats"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ValueColumn is the column RDD elements are stored in.
const ValueColumn = "value"

// NoOutput is what a job that never called Output returns.
const NoOutput = "No output"

// ErrOperationFailed is the cause of every error returned for an operation
// that did not succeed on all partitions.
var ErrOperationFailed = errors.New("flame operation failed")

// IsOperationFailed reports whether err came from a failed operation.
func IsOperationFailed(err error) bool {
	return errors.Cause(err) == ErrOperationFailed
}

// WorkerSource lists the live Flame workers, host:port each.
type WorkerSource func(ctx context.Context) ([]string, error)

// StaticWorkers always returns addrs.
func StaticWorkers(addrs ...string) WorkerSource {
	return func(context.Context) ([]string, error) {
		return addrs, nil
	}
}

// CoordinatorWorkers reads the workers from a Flame coordinator.
func CoordinatorWorkers(hc *http.Client, coordinatorAddr string) WorkerSource {
	return func(ctx context.Context) ([]string, error) {
		workers, err := coordinator.FetchWorkers(ctx, hc, coordinatorAddr)
		if err != nil {
			return nil, err
		}
		return MembershipAddrs(workers), nil
	}
}

// MembershipAddrs returns the addresses of workers.
func MembershipAddrs(workers []coordinator.Worker) []string {
	addrs := make([]string, 0, len(workers))
	for _, w := range workers {
		addrs = append(addrs, w.Addr)
	}
	return addrs
}

// Context runs the operations of one job.
type Context struct {
	job     string
	kvs     *client.Client
	hc      *http.Client
	workers WorkerSource

	seq *atomic.Int64

	mu     sync.Mutex
	output strings.Builder
}

// NewContext creates a Context for job. Tables it creates are named after
// the job.
func NewContext(job string, kvs *client.Client, workers WorkerSource) *Context {
	return &Context{
		job:     job,
		kvs:     kvs,
		hc:      &http.Client{},
		workers: workers,
		seq:     atomic.NewInt64(0),
	}
}

func (c *Context) KVS() *client.Client {
	return c.kvs
}

// Output appends s to the job output.
func (c *Context) Output(s string) {
	c.mu.Lock()
	c.output.WriteString(s)
	c.mu.Unlock()
}

// Result returns the accumulated output, NoOutput when there is none.
func (c *Context) Result() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.output.Len() == 0 {
		return NoOutput
	}
	return c.output.String()
}

func (c *Context) newTableName() string {
	return "flame_" + strconv.FormatInt(c.seq.Inc(), 10) + "_" + c.job + "_" +
		strconv.FormatInt(time.Now().UnixNano()/int64(time.Millisecond), 10)
}

// Parallelize stores list in a new table, element i under the row key
// hash(i).
func (c *Context) Parallelize(ctx context.Context, list []string) (*RDD, error) {
	table := c.newTableName()
	for i, v := range list {
		if err := c.kvs.Put(ctx, table, hasher.Hash(strconv.Itoa(i)), ValueColumn, []byte(v)); err != nil {
			return nil, errors.Annotatef(err, "parallelize into %s", table)
		}
	}
	return &RDD{fc: c, table: table}, nil
}

// FromTable maps every row of an existing table to one element with the
// registered RowToString function fn.
func (c *Context) FromTable(ctx context.Context, table, fn string) (*RDD, error) {
	out, err := c.InvokeOperation(ctx, table, lambda.OpFromTable, lambda.FuncPayload(lambda.KindRowToString, fn), nil)
	if err != nil {
		return nil, err
	}
	return &RDD{fc: c, table: out}, nil
}

// FromTableToPair maps every row of an existing table to one pair with the
// registered RowToPair function fn.
func (c *Context) FromTableToPair(ctx context.Context, table, fn string) (*PairRDD, error) {
	out, err := c.InvokeOperation(ctx, table, lambda.OpPairFromTable, lambda.FuncPayload(lambda.KindRowToPair, fn), nil)
	if err != nil {
		return nil, err
	}
	return &PairRDD{fc: c, table: out}, nil
}

func (c *Context) partitions(ctx context.Context) ([]partitioner.Partition, error) {
	if err := c.kvs.Refresh(ctx); err != nil {
		return nil, err
	}
	kvsWorkers, err := c.kvs.Workers(ctx)
	if err != nil {
		return nil, err
	}
	flameWorkers, err := c.workers(ctx)
	if err != nil {
		return nil, err
	}
	return partitioner.ForCluster(kvsWorkers, flameWorkers)
}

type partitionResult struct {
	body    []byte
	latency time.Duration
}

// fanOut sends op to every partition and waits for all of them. It fails
// unless every partition answered 200.
func (c *Context) fanOut(ctx context.Context, input, output string, op lambda.Operation, payload lambda.Payload, zero *string) ([]partitionResult, error) {
	body, err := payload.Encode()
	if err != nil {
		return nil, err
	}
	parts, err := c.partitions(ctx)
	if err != nil {
		return nil, errors.Annotatef(ErrOperationFailed, "%s on %s: %v", op.Name, input, err)
	}

	start := time.Now()
	results := make([]partitionResult, len(parts))
	var g errgroup.Group
	for i, p := range parts {
		i, p := i, p
		g.Go(func() error {
			query := url.Values{}
			query.Set("inputTable", input)
			query.Set("outputTable", output)
			query.Set("kvsCoordinator", c.kvs.Coordinator())
			if p.FromKey != nil {
				query.Set("fromKey", *p.FromKey)
			}
			if p.ToKeyExclusive != nil {
				query.Set("toKeyExclusive", *p.ToKeyExclusive)
			}
			if zero != nil {
				query.Set("zeroElement", *zero)
			}
			began := time.Now()
			resp, err := c.post(ctx, "http://"+p.FlameWorker+op.Path+"?"+query.Encode(), body)
			results[i] = partitionResult{body: resp, latency: time.Since(began)}
			if err != nil {
				return errors.Annotatef(err, "partition on %s", p.FlameWorker)
			}
			return nil
		})
	}
	err = g.Wait()
	c.observe(op, input, results, time.Since(start), err)
	if err != nil {
		return nil, errors.Annotatef(ErrOperationFailed, "%s on %s: %v", op.Name, input, err)
	}
	return results, nil
}

func (c *Context) post(ctx context.Context, u string, body []byte) ([]byte, error) {
	req, err := http.NewRequest(http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	resp, err := c.hc.Do(req.WithContext(ctx))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer resp.Body.Close()
	data, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}
	return data, nil
}

func (c *Context) observe(op lambda.Operation, input string, results []partitionResult, total time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "fail"
	}
	operationCounter.WithLabelValues(op.Name, result).Inc()
	operationDuration.WithLabelValues(op.Name).Observe(total.Seconds())

	latencies := make(stats.Float64Data, 0, len(results))
	for _, r := range results {
		latencies = append(latencies, r.latency.Seconds())
	}
	mean, _ := latencies.Mean()
	p99, _ := latencies.Percentile(99)
	log.Info("flame operation finished",
		zap.String("job", c.job),
		zap.String("op", op.Name),
		zap.String("input", input),
		zap.Int("partitions", len(results)),
		zap.Duration("total", total),
		zap.Float64("mean-partition-seconds", mean),
		zap.Float64("p99-partition-seconds", p99),
		zap.Error(err))
}

// InvokeOperation runs op over input and returns the name of the new output
// table. When any partition fails the error wraps ErrOperationFailed and the
// partial output table is left as it is.
func (c *Context) InvokeOperation(ctx context.Context, input string, op lambda.Operation, payload lambda.Payload, zero *string) (string, error) {
	output := c.newTableName()
	if _, err := c.fanOut(ctx, input, output, op, payload, zero); err != nil {
		return "", err
	}
	return output, nil
}

// InvokeFold runs a fold operation and reduces the partition results with
// fn, starting at zero, in partition order. A false result of fn folds to
// the empty string.
func (c *Context) InvokeFold(ctx context.Context, input string, op lambda.Operation, fn, zero string) (string, error) {
	reduce, err := lambda.GetTwoStringsToString(fn)
	if err != nil {
		return "", err
	}
	results, err := c.fanOut(ctx, input, "", op, lambda.FuncPayload(lambda.KindTwoStringsToString, fn), &zero)
	if err != nil {
		return "", err
	}
	acc := zero
	for _, r := range results {
		v, ok := reduce(acc, string(r.body))
		if !ok {
			v = ""
		}
		acc = v
	}
	return acc, nil
}
