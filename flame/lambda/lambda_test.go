package lambda

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	Register("test.upper", func(s string) (string, bool) { return strings.ToUpper(s), true })
	Register("test.split", StringToIterable(func(s string) ([]string, error) { return strings.Fields(s), nil }))
	Register("test.partition", IteratorToIterator(func(in []string) ([]string, error) { return in, nil }))
}

func TestRegistry(t *testing.T) {
	kind, ok := KindOf("test.upper")
	require.True(t, ok)
	assert.Equal(t, KindStringToString, kind)

	upper, err := GetStringToString("test.upper")
	require.Nil(t, err)
	v, ok := upper("abc")
	assert.True(t, ok)
	assert.Equal(t, "ABC", v)

	split, err := GetStringToIterable("test.split")
	require.Nil(t, err)
	out, err := split("a b  c")
	require.Nil(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, out)

	_, err = GetStringToIterable("test.upper")
	assert.NotNil(t, err)
	_, err = GetStringToString("missing")
	assert.NotNil(t, err)

	kind, _ = KindOf("test.partition")
	assert.Equal(t, KindIteratorToIterator, kind)

	join, err := GetTwoStringsToString(CommaJoin)
	require.Nil(t, err)
	acc, _ := join("", "a")
	acc, _ = join(acc, "b")
	assert.Equal(t, "a,b", acc)
}

func TestRegisterPanics(t *testing.T) {
	assert.Panics(t, func() { Register("test.upper", func(s string) (string, bool) { return s, true }) })
	assert.Panics(t, func() { Register("test.bad", func(int) int { return 0 }) })
	assert.Panics(t, func() { Register("", func(s string) bool { return true }) })
}

func TestPayload(t *testing.T) {
	data, err := FuncPayload(KindStringToString, "test.upper").Encode()
	require.Nil(t, err)
	p, err := DecodePayload(data)
	require.Nil(t, err)
	assert.Nil(t, OpGroupBy.Validate(p))
	assert.NotNil(t, OpFlatMap.Validate(p))

	_, err = DecodePayload([]byte("not json"))
	assert.NotNil(t, err)
	_, err = DecodePayload([]byte(`{"version":99}`))
	assert.NotNil(t, err)

	assert.Nil(t, OpSample.Validate(FractionPayload(0.5)))
	assert.NotNil(t, OpSample.Validate(FractionPayload(2)))
	assert.Nil(t, OpJoin.Validate(TablePayload("other")))
	assert.NotNil(t, OpJoin.Validate(Payload{Version: PayloadVersion}))
	assert.Nil(t, OpDistinct.Validate(Payload{Version: PayloadVersion}))

	missing := FuncPayload(KindStringToString, "nope")
	assert.NotNil(t, OpGroupBy.Validate(missing))
}

func TestOperationPaths(t *testing.T) {
	seen := make(map[string]bool)
	for _, op := range Operations {
		assert.False(t, seen[op.Path], op.Path)
		seen[op.Path] = true
	}
	assert.Len(t, seen, 18)
}
