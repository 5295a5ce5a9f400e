package zookeeper

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSequenceOrdering(t *testing.T) {
	children := []string{
		"_c_9f2c-lock-0000000012",
		"_c_01aa-lock-0000000003",
		"_c_ffff-lock-0000000007",
	}
	sort.Slice(children, func(i, j int) bool { return sequence(children[i]) < sequence(children[j]) })

	assert.Equal(t, []string{
		"_c_01aa-lock-0000000003",
		"_c_ffff-lock-0000000007",
		"_c_9f2c-lock-0000000012",
	}, children)
	assert.Equal(t, "short", sequence("short"))
}
