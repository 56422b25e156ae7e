package coordinator_test

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/eepycrawl/flamekv/flame"
	"github.com/eepycrawl/flamekv/flame/coordinator"
	_ "github.com/eepycrawl/flamekv/flame/jobs"
	"github.com/eepycrawl/flamekv/pkg/testcluster/flamecluster"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmit(t *testing.T) {
	c := flamecluster.Start(t, []string{"ddddd", "mmmmm", "ttttt"}, 2)
	defer c.Close()
	ctx := context.Background()
	hc := &http.Client{}
	addr := c.CoordinatorAddr()

	res, err := coordinator.Submit(ctx, hc, addr, "groupBy", []string{"a", "b", "a"})
	require.Nil(t, err)
	assert.Equal(t, "(a,a,a),(b,b)", res.Output)
	assert.Len(t, res.RunID, 36)

	res, err = coordinator.Submit(ctx, hc, addr, "intersection", []string{"b", "c", "d"})
	require.Nil(t, err)
	assert.Equal(t, "b,c", res.Output)

	res, err = coordinator.Submit(ctx, hc, addr, "wordcount", []string{"the cat", "The dog"})
	require.Nil(t, err)
	assert.Equal(t, "cat:1,dog:1,the:2", res.Output)

	res, err = coordinator.Submit(ctx, hc, addr, "sample", nil)
	require.Nil(t, err)
	assert.Equal(t, flame.NoOutput, res.Output)

	res, err = coordinator.Submit(ctx, hc, addr, "sample", []string{"x", "y", "z"})
	require.Nil(t, err)
	if res.Output != flame.NoOutput {
		for _, v := range strings.Split(res.Output, ",") {
			assert.Contains(t, []string{"x", "y", "z"}, v)
		}
	}

	_, err = coordinator.Submit(ctx, hc, addr, "nosuchjob", nil)
	require.NotNil(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestSubmitWithoutWorkers(t *testing.T) {
	c := flamecluster.Start(t, []string{"mmmmm"}, 0)
	defer c.Close()

	_, err := coordinator.Submit(context.Background(), &http.Client{}, c.CoordinatorAddr(), "groupBy", []string{"a"})
	require.NotNil(t, err)
	assert.Contains(t, err.Error(), "500")
}
