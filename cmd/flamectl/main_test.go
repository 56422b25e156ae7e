package main

import (
	"bytes"
	"strings"
	"testing"

	_ "github.com/eepycrawl/flamekv/flame/jobs"
	"github.com/eepycrawl/flamekv/pkg/testcluster/flamecluster"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(args ...string) (string, error) {
	root := NewRootCommand()
	buf := new(bytes.Buffer)
	root.SetOutput(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestCommands(t *testing.T) {
	c := flamecluster.Start(t, []string{"ddddd", "mmmmm"}, 1)
	defer c.Close()
	kvs := c.KVS.CoordinatorAddr()
	flame := c.CoordinatorAddr()

	_, err := execute("-k", kvs, "kvs", "put", "t1", "r1", "c1", "hello")
	require.Nil(t, err)
	_, err = execute("-k", kvs, "kvs", "put", "t1", "r2", "c1", "world")
	require.Nil(t, err)

	out, err := execute("-k", kvs, "kvs", "get", "t1", "r1", "c1")
	require.Nil(t, err)
	assert.Equal(t, "hello\n", out)
	_, err = execute("-k", kvs, "kvs", "get", "t1", "r9", "c1")
	assert.NotNil(t, err)

	out, err = execute("-k", kvs, "kvs", "count", "t1")
	require.Nil(t, err)
	assert.Equal(t, "2\n", out)

	out, err = execute("-k", kvs, "kvs", "scan", "t1", "--limit", "1")
	require.Nil(t, err)
	assert.Equal(t, "r1 c1 5 hello \n", out)

	_, err = execute("-k", kvs, "kvs", "rename", "t1", "t2")
	require.Nil(t, err)
	out, err = execute("-k", kvs, "kvs", "scan", "t2", "--from", "r2")
	require.Nil(t, err)
	assert.Equal(t, "r2 c1 5 world \n", out)

	_, err = execute("-k", kvs, "kvs", "delete", "t2")
	require.Nil(t, err)
	_, err = execute("-k", kvs, "kvs", "count", "t2")
	assert.NotNil(t, err)

	out, err = execute("-k", kvs, "workers")
	require.Nil(t, err)
	assert.True(t, strings.HasPrefix(out, "2\nddddd,"))

	out, err = execute("-f", flame, "workers", "--of-flame")
	require.Nil(t, err)
	assert.True(t, strings.HasPrefix(out, "1\n"))

	out, err = execute("-k", kvs, "-f", flame, "submit", "groupBy", "a", "b", "a")
	require.Nil(t, err)
	assert.Equal(t, "(a,a,a),(b,b)\n", out)

	_, err = execute("-f", flame, "submit")
	assert.NotNil(t, err)
}
