package flame

import (
	"context"
	"io"

	"github.com/eepycrawl/flamekv/flame/lambda"
)

// PairRDD is a table of pairs: the row key is the pair key and every column
// holds one value for that key.
type PairRDD struct {
	fc    *Context
	table string
}

func (p *PairRDD) Table() string {
	return p.table
}

func (p *PairRDD) derive(ctx context.Context, op lambda.Operation, payload lambda.Payload, zero *string) (string, error) {
	return p.fc.InvokeOperation(ctx, p.table, op, payload, zero)
}

// Collect returns every pair in row key order.
func (p *PairRDD) Collect(ctx context.Context) ([]Pair, error) {
	it, err := p.fc.kvs.Scan(ctx, p.table, "", "")
	if err != nil {
		return nil, err
	}
	defer it.Close()
	var pairs []Pair
	for {
		rw, err := it.Next()
		if err == io.EOF {
			return pairs, nil
		}
		if err != nil {
			return nil, err
		}
		for _, col := range rw.Columns() {
			v, _ := rw.Get(col)
			pairs = append(pairs, Pair{Key: rw.Key(), Value: v})
		}
	}
}

// FoldByKey folds the values of each key with fn starting from zero.
func (p *PairRDD) FoldByKey(ctx context.Context, zero, fn string) (*PairRDD, error) {
	out, err := p.derive(ctx, lambda.OpFoldByKey, lambda.FuncPayload(lambda.KindTwoStringsToString, fn), &zero)
	if err != nil {
		return nil, err
	}
	return &PairRDD{fc: p.fc, table: out}, nil
}

func (p *PairRDD) FlatMap(ctx context.Context, fn string) (*RDD, error) {
	out, err := p.derive(ctx, lambda.OpPairFlatMap, lambda.FuncPayload(lambda.KindPairToStringIterable, fn), nil)
	if err != nil {
		return nil, err
	}
	return &RDD{fc: p.fc, table: out}, nil
}

func (p *PairRDD) FlatMapToPair(ctx context.Context, fn string) (*PairRDD, error) {
	out, err := p.derive(ctx, lambda.OpPairFlatMapToPair, lambda.FuncPayload(lambda.KindPairToPairIterable, fn), nil)
	if err != nil {
		return nil, err
	}
	return &PairRDD{fc: p.fc, table: out}, nil
}

// Join pairs every value of a key with every value of the same key in other,
// as "v1,v2".
func (p *PairRDD) Join(ctx context.Context, other *PairRDD) (*PairRDD, error) {
	out, err := p.derive(ctx, lambda.OpJoin, lambda.TablePayload(other.table), nil)
	if err != nil {
		return nil, err
	}
	return &PairRDD{fc: p.fc, table: out}, nil
}

// Cogroup produces one pair per key of p whose value lists the values of
// both sides as "[a,b],[c,d]". Keys present only in other are dropped.
func (p *PairRDD) Cogroup(ctx context.Context, other *PairRDD) (*PairRDD, error) {
	out, err := p.derive(ctx, lambda.OpCogroup, lambda.TablePayload(other.table), nil)
	if err != nil {
		return nil, err
	}
	return &PairRDD{fc: p.fc, table: out}, nil
}

// Fold reduces every value of every pair with fn.
func (p *PairRDD) Fold(ctx context.Context, zero, fn string) (string, error) {
	return p.fc.InvokeFold(ctx, p.table, lambda.OpPairFold, fn, zero)
}

func (p *PairRDD) SaveAsTable(ctx context.Context, name string) error {
	if err := saveAs(ctx, p.fc, p.table, name); err != nil {
		return err
	}
	p.table = name
	return nil
}

func (p *PairRDD) Destroy(ctx context.Context) error {
	return destroy(ctx, p.fc, p.table)
}
