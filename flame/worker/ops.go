package worker

import (
	"context"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/eepycrawl/flamekv/flame/lambda"
	"github.com/eepycrawl/flamekv/kv/client"
	"github.com/eepycrawl/flamekv/kv/row"
	"github.com/eepycrawl/flamekv/kv/util/hasher"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// valueColumn is where RDD elements live.
const valueColumn = "value"

// task is one operation request: a key range of the input table, the
// decoded payload and the cells produced so far.
type task struct {
	op      lambda.Operation
	payload lambda.Payload
	kvs     *client.Client

	input, output string
	from, to      string
	zero          string

	cells  []row.Cell
	result string
}

func (t *task) emit(rowKey, column, value string) {
	t.cells = append(t.cells, row.Cell{Row: rowKey, Column: column, Value: []byte(value)})
}

// each calls fn on every row of the input range.
func (t *task) each(ctx context.Context, fn func(r *row.Row) error) error {
	return scanRange(ctx, t.kvs, t.input, t.from, t.to, fn)
}

func scanRange(ctx context.Context, kvs *client.Client, table, from, to string, fn func(r *row.Row) error) error {
	it, err := kvs.Scan(ctx, table, from, to)
	if err != nil {
		return err
	}
	defer it.Close()
	for {
		r, err := it.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Annotatef(err, "scan %s", table)
		}
		if err := fn(r); err != nil {
			return err
		}
	}
}

func value(r *row.Row) string {
	v, _ := r.Get(valueColumn)
	return v
}

// elementKey names the i-th output of a partition derived from key.
func elementKey(key string, i int) string {
	return hasher.Hash(key + "!" + strconv.Itoa(i))
}

type executor func(ctx context.Context, t *task) error

type operation struct {
	lambda.Operation
	exec executor
}

func operations() []operation {
	return []operation{
		{lambda.OpFlatMap, execFlatMap},
		{lambda.OpFlatMapToPair, execFlatMapToPair},
		{lambda.OpMapToPair, execMapToPair},
		{lambda.OpGroupBy, execGroupBy},
		{lambda.OpFilter, execFilter},
		{lambda.OpSample, execSample},
		{lambda.OpDistinct, execDistinct},
		{lambda.OpIntersection, execIntersection},
		{lambda.OpMapPartitions, execMapPartitions},
		{lambda.OpFromTable, execFromTable},
		{lambda.OpFold, execFold},
		{lambda.OpFoldByKey, execFoldByKey},
		{lambda.OpPairFlatMap, execPairFlatMap},
		{lambda.OpPairFlatMapToPair, execPairFlatMapToPair},
		{lambda.OpJoin, execJoin},
		{lambda.OpCogroup, execCogroup},
		{lambda.OpPairFromTable, execPairFromTable},
		{lambda.OpPairFold, execPairFold},
	}
}

// parseTask reads the query parameters and payload of an operation request.
// Errors are the client's fault.
func (s *Server) parseTask(w http.ResponseWriter, r *http.Request, op lambda.Operation) (*task, error) {
	q := r.URL.Query()
	t := &task{
		op:     op,
		input:  q.Get("inputTable"),
		output: q.Get("outputTable"),
		from:   q.Get("fromKey"),
		to:     q.Get("toKeyExclusive"),
		zero:   q.Get("zeroElement"),
	}
	coordinatorAddr := q.Get("kvsCoordinator")
	switch {
	case coordinatorAddr == "":
		return nil, errors.New("missing kvsCoordinator")
	case t.input == "":
		return nil, errors.New("missing inputTable")
	case t.output == "" && !op.Fold:
		return nil, errors.New("missing outputTable")
	case op.NeedsZero && !q.Has("zeroElement"):
		return nil, errors.New("missing zeroElement")
	}

	body, err := s.readBody(w, r)
	if err != nil {
		return nil, err
	}
	if t.payload, err = lambda.DecodePayload(body); err != nil {
		return nil, err
	}
	if err := op.Validate(t.payload); err != nil {
		return nil, err
	}
	t.kvs = s.kvsClient(coordinatorAddr)
	return t, nil
}

func (s *Server) operationHandler(op operation) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		t, err := s.parseTask(w, r, op.Operation)
		if err != nil {
			taskCounter.WithLabelValues(op.Name, "bad-request").Inc()
			s.rd.Text(w, http.StatusBadRequest, err.Error())
			return
		}
		ctx := r.Context()
		if err = op.exec(ctx, t); err == nil && !op.Fold {
			err = t.kvs.BatchPut(ctx, t.output, t.cells)
		}
		taskDuration.WithLabelValues(op.Name).Observe(time.Since(start).Seconds())
		if err != nil {
			taskCounter.WithLabelValues(op.Name, "fail").Inc()
			log.Warn("flame task failed",
				zap.String("op", op.Name),
				zap.String("input", t.input),
				zap.String("from", t.from),
				zap.String("to", t.to),
				zap.Error(err))
			s.rd.Text(w, http.StatusInternalServerError, err.Error())
			return
		}
		taskCounter.WithLabelValues(op.Name, "ok").Inc()
		outputCellsCounter.WithLabelValues(op.Name).Add(float64(len(t.cells)))
		if op.Fold {
			s.rd.Text(w, http.StatusOK, t.result)
			return
		}
		s.rd.Text(w, http.StatusOK, "OK")
	}
}

func execFlatMap(ctx context.Context, t *task) error {
	fn, err := lambda.GetStringToIterable(t.payload.Func)
	if err != nil {
		return err
	}
	i := 0
	return t.each(ctx, func(r *row.Row) error {
		out, err := fn(value(r))
		if err != nil {
			return err
		}
		for _, v := range out {
			t.emit(elementKey(r.Key(), i), valueColumn, v)
			i++
		}
		return nil
	})
}

func execFlatMapToPair(ctx context.Context, t *task) error {
	fn, err := lambda.GetStringToPairIterable(t.payload.Func)
	if err != nil {
		return err
	}
	i := 0
	return t.each(ctx, func(r *row.Row) error {
		out, err := fn(value(r))
		if err != nil {
			return err
		}
		for _, p := range out {
			t.emit(p.Key, elementKey(r.Key(), i), p.Value)
			i++
		}
		return nil
	})
}

func execMapToPair(ctx context.Context, t *task) error {
	fn, err := lambda.GetStringToPair(t.payload.Func)
	if err != nil {
		return err
	}
	return t.each(ctx, func(r *row.Row) error {
		if p, ok := fn(value(r)); ok {
			t.emit(p.Key, r.Key(), p.Value)
		}
		return nil
	})
}

// execGroupBy files every element under its group key. The driver folds the
// groups afterwards.
func execGroupBy(ctx context.Context, t *task) error {
	fn, err := lambda.GetStringToString(t.payload.Func)
	if err != nil {
		return err
	}
	return t.each(ctx, func(r *row.Row) error {
		v := value(r)
		if key, ok := fn(v); ok {
			t.emit(key, r.Key(), v)
		}
		return nil
	})
}

func execFilter(ctx context.Context, t *task) error {
	fn, err := lambda.GetStringToBool(t.payload.Func)
	if err != nil {
		return err
	}
	return t.each(ctx, func(r *row.Row) error {
		if v := value(r); fn(v) {
			t.emit(r.Key(), valueColumn, v)
		}
		return nil
	})
}

func execSample(ctx context.Context, t *task) error {
	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
	return t.each(ctx, func(r *row.Row) error {
		if rnd.Float64() < t.payload.Fraction {
			t.emit(r.Key(), valueColumn, value(r))
		}
		return nil
	})
}

func execDistinct(ctx context.Context, t *task) error {
	seen := make(map[string]struct{})
	return t.each(ctx, func(r *row.Row) error {
		v := value(r)
		if _, dup := seen[v]; !dup {
			seen[v] = struct{}{}
			t.emit(v, valueColumn, v)
		}
		return nil
	})
}

// execIntersection expects both tables to be keyed by value, so the other
// side's matches lie in the same key range.
func execIntersection(ctx context.Context, t *task) error {
	other := make(map[string]struct{})
	err := scanRange(ctx, t.kvs, t.payload.OtherTable, t.from, t.to, func(r *row.Row) error {
		other[value(r)] = struct{}{}
		return nil
	})
	if err != nil {
		return err
	}
	return t.each(ctx, func(r *row.Row) error {
		v := value(r)
		if _, ok := other[v]; ok {
			t.emit(r.Key(), valueColumn, v)
		}
		return nil
	})
}

func execMapPartitions(ctx context.Context, t *task) error {
	fn, err := lambda.GetIteratorToIterator(t.payload.Func)
	if err != nil {
		return err
	}
	var values []string
	err = t.each(ctx, func(r *row.Row) error {
		values = append(values, value(r))
		return nil
	})
	if err != nil {
		return err
	}
	out, err := fn(values)
	if err != nil {
		return err
	}
	for i, v := range out {
		t.emit(elementKey(t.from, i), valueColumn, v)
	}
	return nil
}

func execFromTable(ctx context.Context, t *task) error {
	fn, err := lambda.GetRowToString(t.payload.Func)
	if err != nil {
		return err
	}
	return t.each(ctx, func(r *row.Row) error {
		if v, ok := fn(r); ok {
			t.emit(r.Key(), valueColumn, v)
		}
		return nil
	})
}

func execPairFromTable(ctx context.Context, t *task) error {
	fn, err := lambda.GetRowToPair(t.payload.Func)
	if err != nil {
		return err
	}
	return t.each(ctx, func(r *row.Row) error {
		if p, ok := fn(r); ok {
			t.emit(p.Key, r.Key(), p.Value)
		}
		return nil
	})
}

// folder accumulates values with fn. A false result leaves the empty string
// as the accumulator.
type folder struct {
	fn  lambda.TwoStringsToString
	acc string
	ok  bool
}

func (f *folder) add(v string) {
	f.acc, f.ok = f.fn(f.acc, v)
	if !f.ok {
		f.acc = ""
	}
}

func execFold(ctx context.Context, t *task) error {
	fn, err := lambda.GetTwoStringsToString(t.payload.Func)
	if err != nil {
		return err
	}
	f := &folder{fn: fn, acc: t.zero}
	err = t.each(ctx, func(r *row.Row) error {
		f.add(value(r))
		return nil
	})
	t.result = f.acc
	return err
}

func execPairFold(ctx context.Context, t *task) error {
	fn, err := lambda.GetTwoStringsToString(t.payload.Func)
	if err != nil {
		return err
	}
	f := &folder{fn: fn, acc: t.zero}
	err = t.each(ctx, func(r *row.Row) error {
		for _, col := range r.Columns() {
			v, _ := r.Get(col)
			f.add(v)
		}
		return nil
	})
	t.result = f.acc
	return err
}

// execFoldByKey folds the columns of each row. A row whose last fold step
// returned false is dropped.
func execFoldByKey(ctx context.Context, t *task) error {
	fn, err := lambda.GetTwoStringsToString(t.payload.Func)
	if err != nil {
		return err
	}
	return t.each(ctx, func(r *row.Row) error {
		f := &folder{fn: fn, acc: t.zero, ok: true}
		for _, col := range r.Columns() {
			v, _ := r.Get(col)
			f.add(v)
		}
		if f.ok {
			t.emit(r.Key(), valueColumn, f.acc)
		}
		return nil
	})
}

func execPairFlatMap(ctx context.Context, t *task) error {
	fn, err := lambda.GetPairToStringIterable(t.payload.Func)
	if err != nil {
		return err
	}
	i := 0
	return t.each(ctx, func(r *row.Row) error {
		for _, col := range r.Columns() {
			v, _ := r.Get(col)
			out, err := fn(lambda.Pair{Key: r.Key(), Value: v})
			if err != nil {
				return err
			}
			for _, o := range out {
				t.emit(elementKey(r.Key(), i), valueColumn, o)
				i++
			}
		}
		return nil
	})
}

func execPairFlatMapToPair(ctx context.Context, t *task) error {
	fn, err := lambda.GetPairToPairIterable(t.payload.Func)
	if err != nil {
		return err
	}
	i := 0
	return t.each(ctx, func(r *row.Row) error {
		for _, col := range r.Columns() {
			v, _ := r.Get(col)
			out, err := fn(lambda.Pair{Key: r.Key(), Value: v})
			if err != nil {
				return err
			}
			for _, p := range out {
				t.emit(p.Key, elementKey(r.Key(), i), p.Value)
				i++
			}
		}
		return nil
	})
}

// execJoin looks up each key in the other table and pairs up every value
// combination as "v1,v2".
func execJoin(ctx context.Context, t *task) error {
	return t.each(ctx, func(r *row.Row) error {
		other, err := t.kvs.GetRow(ctx, t.payload.OtherTable, r.Key())
		if err != nil {
			return err
		}
		if other == nil {
			return nil
		}
		for _, col := range r.Columns() {
			v1, _ := r.Get(col)
			for _, otherCol := range other.Columns() {
				v2, _ := other.Get(otherCol)
				t.emit(r.Key(), hasher.Hash(col+"!"+otherCol), v1+","+v2)
			}
		}
		return nil
	})
}

func rowValues(r *row.Row) []string {
	if r == nil {
		return nil
	}
	values := make([]string, 0, r.Len())
	for _, col := range r.Columns() {
		v, _ := r.Get(col)
		values = append(values, v)
	}
	return values
}

// execCogroup writes "[a,b],[c,d]" per key of the input: the values of the
// input row, then those of the other table under the same key.
func execCogroup(ctx context.Context, t *task) error {
	return t.each(ctx, func(r *row.Row) error {
		other, err := t.kvs.GetRow(ctx, t.payload.OtherTable, r.Key())
		if err != nil {
			return err
		}
		v := "[" + strings.Join(rowValues(r), ",") + "],[" + strings.Join(rowValues(other), ",") + "]"
		t.emit(r.Key(), valueColumn, v)
		return nil
	})
}
