// Package jobs holds the jobs every Flame binary knows about, together with
// the functions they run on workers. Importing it registers both.
package jobs

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/eepycrawl/flamekv/flame"
	"github.com/eepycrawl/flamekv/flame/lambda"
)

// Function names registered by this package.
const (
	SplitWords = "jobs.splitWords"
	WordOne    = "jobs.wordOne"
	SumInts    = "jobs.sumInts"
	Identity   = "jobs.identity"
)

func init() {
	lambda.Register(SplitWords, lambda.StringToIterable(func(s string) ([]string, error) {
		return strings.Fields(s), nil
	}))
	lambda.Register(WordOne, lambda.StringToPair(func(s string) (lambda.Pair, bool) {
		return lambda.Pair{Key: strings.ToLower(s), Value: "1"}, true
	}))
	lambda.Register(SumInts, lambda.TwoStringsToString(func(a, b string) (string, bool) {
		x, err := strconv.Atoi(a)
		if err != nil {
			return "", false
		}
		y, err := strconv.Atoi(b)
		if err != nil {
			return "", false
		}
		return strconv.Itoa(x + y), true
	}))
	lambda.Register(Identity, lambda.StringToString(func(s string) (string, bool) {
		return s, true
	}))

	flame.RegisterJob("wordcount", WordCount)
	flame.RegisterJob("groupBy", GroupBy)
	flame.RegisterJob("intersection", Intersection)
	flame.RegisterJob("sample", Sample)
}

// WordCount counts the words of its arguments and outputs "word:n" pairs
// in word order, comma separated.
func WordCount(ctx context.Context, fc *flame.Context, args []string) error {
	lines, err := fc.Parallelize(ctx, args)
	if err != nil {
		return err
	}
	words, err := lines.FlatMap(ctx, SplitWords)
	if err != nil {
		return err
	}
	ones, err := words.MapToPair(ctx, WordOne)
	if err != nil {
		return err
	}
	counts, err := ones.FoldByKey(ctx, "0", SumInts)
	if err != nil {
		return err
	}
	pairs, err := counts.Collect(ctx)
	if err != nil {
		return err
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Key < pairs[j].Key })
	out := make([]string, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, p.Key+":"+p.Value)
	}
	fc.Output(strings.Join(out, ","))

	for _, rdd := range []interface{ Destroy(context.Context) error }{lines, words, ones, counts} {
		if err := rdd.Destroy(ctx); err != nil {
			return err
		}
	}
	return nil
}

// GroupBy groups its arguments by value and outputs the groups as
// "(key,v1,v2)" pairs.
func GroupBy(ctx context.Context, fc *flame.Context, args []string) error {
	rdd, err := fc.Parallelize(ctx, args)
	if err != nil {
		return err
	}
	grouped, err := rdd.GroupBy(ctx, Identity)
	if err != nil {
		return err
	}
	pairs, err := grouped.Collect(ctx)
	if err != nil {
		return err
	}
	out := make([]string, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, p.String())
	}
	fc.Output(strings.Join(out, ","))
	return nil
}

// Intersection outputs the arguments that also appear in a,b,c.
func Intersection(ctx context.Context, fc *flame.Context, args []string) error {
	left, err := fc.Parallelize(ctx, args)
	if err != nil {
		return err
	}
	right, err := fc.Parallelize(ctx, []string{"a", "b", "c", "c", "a"})
	if err != nil {
		return err
	}
	both, err := left.Intersection(ctx, right)
	if err != nil {
		return err
	}
	out, err := both.Collect(ctx)
	if err != nil {
		return err
	}
	fc.Output(strings.Join(out, ","))
	return nil
}

// Sample outputs about half of its arguments.
func Sample(ctx context.Context, fc *flame.Context, args []string) error {
	rdd, err := fc.Parallelize(ctx, args)
	if err != nil {
		return err
	}
	sampled, err := rdd.Sample(ctx, 0.5)
	if err != nil {
		return err
	}
	out, err := sampled.Collect(ctx)
	if err != nil {
		return err
	}
	if len(out) == 0 {
		fc.Output(flame.NoOutput)
		return nil
	}
	fc.Output(strings.Join(out, ","))
	return nil
}
