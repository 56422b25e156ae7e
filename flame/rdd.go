package flame

import (
	"context"
	"io"

	"github.com/eepycrawl/flamekv/flame/lambda"
	"github.com/eepycrawl/flamekv/kv/storage"
)

// Pair is an element of a PairRDD.
type Pair = lambda.Pair

// RDD is a table of single values, one per row under ValueColumn. The RDD
// owns its table until SaveAsTable or Destroy.
type RDD struct {
	fc    *Context
	table string
}

func (r *RDD) Table() string {
	return r.table
}

func (r *RDD) derive(ctx context.Context, op lambda.Operation, payload lambda.Payload) (*RDD, error) {
	out, err := r.fc.InvokeOperation(ctx, r.table, op, payload, nil)
	if err != nil {
		return nil, err
	}
	return &RDD{fc: r.fc, table: out}, nil
}

func (r *RDD) derivePair(ctx context.Context, op lambda.Operation, payload lambda.Payload) (*PairRDD, error) {
	out, err := r.fc.InvokeOperation(ctx, r.table, op, payload, nil)
	if err != nil {
		return nil, err
	}
	return &PairRDD{fc: r.fc, table: out}, nil
}

// Collect returns every element in row key order.
func (r *RDD) Collect(ctx context.Context) ([]string, error) {
	return r.Take(ctx, -1)
}

// Take returns the first n elements in row key order, all of them when n is
// negative.
func (r *RDD) Take(ctx context.Context, n int) ([]string, error) {
	it, err := r.fc.kvs.Scan(ctx, r.table, "", "")
	if err != nil {
		return nil, err
	}
	defer it.Close()
	var values []string
	for n < 0 || len(values) < n {
		rw, err := it.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		v, _ := rw.Get(ValueColumn)
		values = append(values, v)
	}
	return values, nil
}

func (r *RDD) FlatMap(ctx context.Context, fn string) (*RDD, error) {
	return r.derive(ctx, lambda.OpFlatMap, lambda.FuncPayload(lambda.KindStringToIterable, fn))
}

func (r *RDD) FlatMapToPair(ctx context.Context, fn string) (*PairRDD, error) {
	return r.derivePair(ctx, lambda.OpFlatMapToPair, lambda.FuncPayload(lambda.KindStringToPairIterable, fn))
}

func (r *RDD) MapToPair(ctx context.Context, fn string) (*PairRDD, error) {
	return r.derivePair(ctx, lambda.OpMapToPair, lambda.FuncPayload(lambda.KindStringToPair, fn))
}

func (r *RDD) Filter(ctx context.Context, fn string) (*RDD, error) {
	return r.derive(ctx, lambda.OpFilter, lambda.FuncPayload(lambda.KindStringToBool, fn))
}

func (r *RDD) MapPartitions(ctx context.Context, fn string) (*RDD, error) {
	return r.derive(ctx, lambda.OpMapPartitions, lambda.FuncPayload(lambda.KindIteratorToIterator, fn))
}

// Sample keeps each element with probability f.
func (r *RDD) Sample(ctx context.Context, f float64) (*RDD, error) {
	return r.derive(ctx, lambda.OpSample, lambda.FractionPayload(f))
}

// Distinct stores each distinct value under itself as row key.
func (r *RDD) Distinct(ctx context.Context) (*RDD, error) {
	return r.derive(ctx, lambda.OpDistinct, lambda.Payload{Version: lambda.PayloadVersion})
}

// Intersection returns the distinct values present in both RDDs. Both sides
// are made distinct first so equal values share a row key and thus a
// partition.
func (r *RDD) Intersection(ctx context.Context, other *RDD) (*RDD, error) {
	left, err := r.Distinct(ctx)
	if err != nil {
		return nil, err
	}
	right, err := other.Distinct(ctx)
	if err != nil {
		return nil, err
	}
	return left.derive(ctx, lambda.OpIntersection, lambda.TablePayload(right.table))
}

// GroupBy groups elements by the key fn returns. Each group is one pair
// whose value joins the group's elements with ",".
func (r *RDD) GroupBy(ctx context.Context, fn string) (*PairRDD, error) {
	grouped, err := r.derivePair(ctx, lambda.OpGroupBy, lambda.FuncPayload(lambda.KindStringToString, fn))
	if err != nil {
		return nil, err
	}
	return grouped.FoldByKey(ctx, "", lambda.CommaJoin)
}

// Count returns the number of elements. An RDD without a table is empty.
func (r *RDD) Count(ctx context.Context) (int, error) {
	n, err := r.fc.kvs.Count(ctx, r.table)
	if storage.IsTableNotFound(err) {
		return 0, nil
	}
	return n, err
}

// Fold reduces all elements with the registered TwoStringsToString fn.
func (r *RDD) Fold(ctx context.Context, zero, fn string) (string, error) {
	return r.fc.InvokeFold(ctx, r.table, lambda.OpFold, fn, zero)
}

// SaveAsTable renames the table of the RDD. The RDD then refers to name.
func (r *RDD) SaveAsTable(ctx context.Context, name string) error {
	if err := saveAs(ctx, r.fc, r.table, name); err != nil {
		return err
	}
	r.table = name
	return nil
}

// Destroy drops the table of the RDD.
func (r *RDD) Destroy(ctx context.Context) error {
	return destroy(ctx, r.fc, r.table)
}

func saveAs(ctx context.Context, fc *Context, table, name string) error {
	err := fc.kvs.Rename(ctx, table, name)
	if storage.IsTableNotFound(err) {
		// An empty result has no table to rename.
		return nil
	}
	return err
}

func destroy(ctx context.Context, fc *Context, table string) error {
	err := fc.kvs.Delete(ctx, table)
	if storage.IsTableNotFound(err) {
		return nil
	}
	return err
}
