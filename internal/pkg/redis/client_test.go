package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunScript(t *testing.T) {
	mr := miniredis.RunT(t)
	c := Wrap(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	defer c.Close()

	require.NoError(t, c.LoadScriptFromContent("incr_by", `return redis.call('incrby', KEYS[1], ARGV[1])`))

	res, err := c.RunScript(context.Background(), "incr_by", []string{"counter"}, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), res)

	// 脚本缓存被清空后依然可以执行
	mr.FlushAll()
	mr.Set("counter", "10")
	_, err = c.GetClient().ScriptFlush(context.Background()).Result()
	require.NoError(t, err)

	res, err = c.RunScript(context.Background(), "incr_by", []string{"counter"}, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(12), res)
}

func TestRunScriptNotLoaded(t *testing.T) {
	mr := miniredis.RunT(t)
	c := Wrap(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	defer c.Close()

	_, err := c.RunScript(context.Background(), "missing", nil)
	assert.Error(t, err)
}

func TestSplitAddrs(t *testing.T) {
	assert.Equal(t, []string{"a:1", "b:2"}, splitAddrs(" a:1, ,b:2 "))
	assert.Empty(t, splitAddrs(""))
}
