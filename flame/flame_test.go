package flame_test

import (
	"context"
	"io/ioutil"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"testing"

	"github.com/eepycrawl/flamekv/flame"
	"github.com/eepycrawl/flamekv/flame/lambda"
	"github.com/eepycrawl/flamekv/kv/row"
	"github.com/eepycrawl/flamekv/kv/storage"
	"github.com/eepycrawl/flamekv/pkg/testcluster/flamecluster"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var kvsIDs = []string{"ddddd", "mmmmm", "ttttt"}

func init() {
	lambda.Register("e2e.identity", func(s string) (string, bool) { return s, true })
	lambda.Register("e2e.fields", func(s string) ([]string, error) { return strings.Fields(s), nil })
	lambda.Register("e2e.wordOne", func(s string) ([]lambda.Pair, error) {
		var out []lambda.Pair
		for _, w := range strings.Fields(s) {
			out = append(out, lambda.Pair{Key: w, Value: "1"})
		}
		return out, nil
	})
	lambda.Register("e2e.splitPair", func(s string) (lambda.Pair, bool) {
		i := strings.IndexByte(s, ':')
		if i < 0 {
			return lambda.Pair{}, false
		}
		return lambda.Pair{Key: s[:i], Value: s[i+1:]}, true
	})
	lambda.Register("e2e.sum", func(a, b string) (string, bool) {
		x, err1 := strconv.Atoi(a)
		y, err2 := strconv.Atoi(b)
		if err1 != nil || err2 != nil {
			return "", false
		}
		return strconv.Itoa(x + y), true
	})
	lambda.Register("e2e.long", func(s string) bool { return len(s) > 1 })
	lambda.Register("e2e.partitionSize", func(values []string) ([]string, error) {
		return []string{strconv.Itoa(len(values))}, nil
	})
	lambda.Register("e2e.name", func(r *row.Row) (string, bool) { return r.Get("name") })
	lambda.Register("e2e.nameAge", func(r *row.Row) (lambda.Pair, bool) {
		name, _ := r.Get("name")
		age, ok := r.Get("age")
		return lambda.Pair{Key: name, Value: age}, ok
	})
	lambda.Register("e2e.render", func(p lambda.Pair) ([]string, error) {
		return []string{p.Key + "=" + p.Value}, nil
	})
	lambda.Register("e2e.swap", func(p lambda.Pair) ([]lambda.Pair, error) {
		return []lambda.Pair{{Key: p.Value, Value: p.Key}}, nil
	})
}

func pairStrings(pairs []flame.Pair) []string {
	out := make([]string, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, p.String())
	}
	sort.Strings(out)
	return out
}

func TestDistinctAndCount(t *testing.T) {
	c := flamecluster.Start(t, kvsIDs, 2)
	defer c.Close()
	ctx := context.Background()
	fc := c.NewContext("distinct")

	rdd, err := fc.Parallelize(ctx, []string{"a", "b", "a"})
	require.Nil(t, err)
	n, err := rdd.Count(ctx)
	require.Nil(t, err)
	assert.Equal(t, 3, n)

	distinct, err := rdd.Distinct(ctx)
	require.Nil(t, err)
	values, err := distinct.Collect(ctx)
	require.Nil(t, err)
	assert.Equal(t, []string{"a", "b"}, values)

	taken, err := rdd.Take(ctx, 2)
	require.Nil(t, err)
	assert.Len(t, taken, 2)
}

func TestGroupBy(t *testing.T) {
	c := flamecluster.Start(t, kvsIDs, 2)
	defer c.Close()
	ctx := context.Background()
	fc := c.NewContext("groupBy")

	rdd, err := fc.Parallelize(ctx, []string{"a", "b", "a"})
	require.Nil(t, err)
	grouped, err := rdd.GroupBy(ctx, "e2e.identity")
	require.Nil(t, err)
	pairs, err := grouped.Collect(ctx)
	require.Nil(t, err)
	assert.Equal(t, []string{"(a,a,a)", "(b,b)"}, pairStrings(pairs))
}

func TestFold(t *testing.T) {
	c := flamecluster.Start(t, kvsIDs, 2)
	defer c.Close()
	ctx := context.Background()
	fc := c.NewContext("fold")

	var list []string
	for i := 1; i <= 10; i++ {
		list = append(list, strconv.Itoa(i))
	}
	rdd, err := fc.Parallelize(ctx, list)
	require.Nil(t, err)
	sum, err := rdd.Fold(ctx, "0", "e2e.sum")
	require.Nil(t, err)
	assert.Equal(t, "55", sum)

	pairs, err := rdd.MapToPair(ctx, "e2e.splitPair")
	require.Nil(t, err)
	n, err := pairs.Fold(ctx, "0", "e2e.sum")
	require.Nil(t, err)
	assert.Equal(t, "0", n)
}

func TestWordCountPipeline(t *testing.T) {
	c := flamecluster.Start(t, kvsIDs, 3)
	defer c.Close()
	ctx := context.Background()
	fc := c.NewContext("words")

	lines, err := fc.Parallelize(ctx, []string{"the cat", "the dog", "a"})
	require.Nil(t, err)

	words, err := lines.FlatMap(ctx, "e2e.fields")
	require.Nil(t, err)
	n, err := words.Count(ctx)
	require.Nil(t, err)
	assert.Equal(t, 5, n)

	long, err := words.Filter(ctx, "e2e.long")
	require.Nil(t, err)
	n, err = long.Count(ctx)
	require.Nil(t, err)
	assert.Equal(t, 4, n)

	ones, err := lines.FlatMapToPair(ctx, "e2e.wordOne")
	require.Nil(t, err)
	counts, err := ones.FoldByKey(ctx, "0", "e2e.sum")
	require.Nil(t, err)
	pairs, err := counts.Collect(ctx)
	require.Nil(t, err)
	assert.Equal(t, []string{"(a,1)", "(cat,1)", "(dog,1)", "(the,2)"}, pairStrings(pairs))

	total, err := ones.Fold(ctx, "0", "e2e.sum")
	require.Nil(t, err)
	assert.Equal(t, "5", total)

	sizes, err := words.MapPartitions(ctx, "e2e.partitionSize")
	require.Nil(t, err)
	sum, err := sizes.Fold(ctx, "0", "e2e.sum")
	require.Nil(t, err)
	assert.Equal(t, "5", sum)
}

func TestSample(t *testing.T) {
	c := flamecluster.Start(t, kvsIDs, 2)
	defer c.Close()
	ctx := context.Background()
	fc := c.NewContext("sample")

	rdd, err := fc.Parallelize(ctx, []string{"a", "b", "c", "d"})
	require.Nil(t, err)
	none, err := rdd.Sample(ctx, 0)
	require.Nil(t, err)
	n, err := none.Count(ctx)
	require.Nil(t, err)
	assert.Equal(t, 0, n)

	all, err := rdd.Sample(ctx, 1)
	require.Nil(t, err)
	values, err := all.Collect(ctx)
	require.Nil(t, err)
	assert.ElementsMatch(t, []string{"a", "b", "c", "d"}, values)
}

func TestIntersection(t *testing.T) {
	c := flamecluster.Start(t, kvsIDs, 2)
	defer c.Close()
	ctx := context.Background()
	fc := c.NewContext("intersection")

	left, err := fc.Parallelize(ctx, []string{"b", "c", "d", "b"})
	require.Nil(t, err)
	right, err := fc.Parallelize(ctx, []string{"a", "b", "c", "c", "a"})
	require.Nil(t, err)
	both, err := left.Intersection(ctx, right)
	require.Nil(t, err)
	values, err := both.Collect(ctx)
	require.Nil(t, err)
	assert.Equal(t, []string{"b", "c"}, values)
}

func TestJoinAndCogroup(t *testing.T) {
	c := flamecluster.Start(t, kvsIDs, 2)
	defer c.Close()
	ctx := context.Background()
	fc := c.NewContext("join")

	l, err := fc.Parallelize(ctx, []string{"k1:x", "k2:y"})
	require.Nil(t, err)
	left, err := l.MapToPair(ctx, "e2e.splitPair")
	require.Nil(t, err)
	r, err := fc.Parallelize(ctx, []string{"k1:p", "k1:q", "k3:z"})
	require.Nil(t, err)
	right, err := r.MapToPair(ctx, "e2e.splitPair")
	require.Nil(t, err)

	joined, err := left.Join(ctx, right)
	require.Nil(t, err)
	pairs, err := joined.Collect(ctx)
	require.Nil(t, err)
	assert.Equal(t, []string{"(k1,x,p)", "(k1,x,q)"}, pairStrings(pairs))

	r2, err := fc.Parallelize(ctx, []string{"k1:p", "k3:z"})
	require.Nil(t, err)
	right2, err := r2.MapToPair(ctx, "e2e.splitPair")
	require.Nil(t, err)
	grouped, err := left.Cogroup(ctx, right2)
	require.Nil(t, err)
	pairs, err = grouped.Collect(ctx)
	require.Nil(t, err)
	assert.Equal(t, []string{"(k1,[x],[p])", "(k2,[y],[])"}, pairStrings(pairs))

	rendered, err := left.FlatMap(ctx, "e2e.render")
	require.Nil(t, err)
	values, err := rendered.Collect(ctx)
	require.Nil(t, err)
	assert.ElementsMatch(t, []string{"k1=x", "k2=y"}, values)

	swapped, err := left.FlatMapToPair(ctx, "e2e.swap")
	require.Nil(t, err)
	pairs, err = swapped.Collect(ctx)
	require.Nil(t, err)
	assert.Equal(t, []string{"(x,k1)", "(y,k2)"}, pairStrings(pairs))
}

func TestFromTable(t *testing.T) {
	c := flamecluster.Start(t, kvsIDs, 2)
	defer c.Close()
	ctx := context.Background()
	fc := c.NewContext("fromTable")

	for i, name := range []string{"ann", "bob", "cy"} {
		key := "person" + strconv.Itoa(i)
		require.Nil(t, fc.KVS().Put(ctx, "people", key, "name", []byte(name)))
		if name != "cy" {
			require.Nil(t, fc.KVS().Put(ctx, "people", key, "age", []byte(strconv.Itoa(30+i))))
		}
	}

	names, err := fc.FromTable(ctx, "people", "e2e.name")
	require.Nil(t, err)
	values, err := names.Collect(ctx)
	require.Nil(t, err)
	assert.ElementsMatch(t, []string{"ann", "bob", "cy"}, values)

	ages, err := fc.FromTableToPair(ctx, "people", "e2e.nameAge")
	require.Nil(t, err)
	pairs, err := ages.Collect(ctx)
	require.Nil(t, err)
	assert.Equal(t, []string{"(ann,30)", "(bob,31)"}, pairStrings(pairs))
}

func TestFromTableUnreadableRow(t *testing.T) {
	c := flamecluster.Start(t, kvsIDs, 2)
	defer c.Close()
	ctx := context.Background()
	fc := c.NewContext("unreadable")

	for _, k := range []string{"k1", "k2", "k3"} {
		require.Nil(t, fc.KVS().Put(ctx, "pt-src", k, "name", []byte("n"+k)))
	}
	// Keys k1..k3 are owned by worker ddddd.
	path := filepath.Join(c.KVS.DataDir("ddddd"), "pt-src", "k2")
	require.Nil(t, ioutil.WriteFile(path, []byte("k2 name abc "), 0644))

	_, err := fc.FromTable(ctx, "pt-src", "e2e.name")
	require.NotNil(t, err)
	assert.True(t, flame.IsOperationFailed(err))
}

func TestSaveAndDestroy(t *testing.T) {
	c := flamecluster.Start(t, kvsIDs, 2)
	defer c.Close()
	ctx := context.Background()
	fc := c.NewContext("save")

	rdd, err := fc.Parallelize(ctx, []string{"a", "b"})
	require.Nil(t, err)
	old := rdd.Table()
	require.Nil(t, rdd.SaveAsTable(ctx, "saved"))
	assert.Equal(t, "saved", rdd.Table())
	n, err := fc.KVS().Count(ctx, "saved")
	require.Nil(t, err)
	assert.Equal(t, 2, n)
	_, err = fc.KVS().Count(ctx, old)
	assert.True(t, storage.IsTableNotFound(err))

	require.Nil(t, rdd.Destroy(ctx))
	n, err = rdd.Count(ctx)
	require.Nil(t, err)
	assert.Equal(t, 0, n)
	// Destroying twice is harmless.
	assert.Nil(t, rdd.Destroy(ctx))
}

func TestOperationFailures(t *testing.T) {
	c := flamecluster.Start(t, kvsIDs, 2)
	defer c.Close()
	ctx := context.Background()
	fc := c.NewContext("failures")

	rdd, err := fc.Parallelize(ctx, []string{"a"})
	require.Nil(t, err)
	_, err = rdd.FlatMap(ctx, "e2e.missing")
	require.NotNil(t, err)
	assert.True(t, flame.IsOperationFailed(err))

	// A registered function of the wrong kind is rejected too.
	_, err = rdd.Filter(ctx, "e2e.identity")
	assert.True(t, flame.IsOperationFailed(err))

	noWorkers := flame.NewContext("failures", fc.KVS(), flame.StaticWorkers())
	_, err = noWorkers.FromTable(ctx, rdd.Table(), "e2e.name")
	assert.True(t, flame.IsOperationFailed(err))
}

func TestRunJob(t *testing.T) {
	c := flamecluster.Start(t, kvsIDs, 1)
	defer c.Close()
	ctx := context.Background()

	flame.RegisterJob("e2e.echo", func(ctx context.Context, fc *flame.Context, args []string) error {
		fc.Output(strings.Join(args, " "))
		return nil
	})
	flame.RegisterJob("e2e.silent", func(ctx context.Context, fc *flame.Context, args []string) error {
		return nil
	})

	out, err := flame.RunJob(ctx, c.NewContext("echo"), "e2e.echo", []string{"hi", "there"})
	require.Nil(t, err)
	assert.Equal(t, "hi there", out)

	out, err = flame.RunJob(ctx, c.NewContext("silent"), "e2e.silent", nil)
	require.Nil(t, err)
	assert.Equal(t, flame.NoOutput, out)

	_, err = flame.RunJob(ctx, c.NewContext("nope"), "e2e.nope", nil)
	_, unknown := err.(flame.UnknownJobErr)
	assert.True(t, unknown)
	assert.Contains(t, flame.JobNames(), "e2e.echo")
}
