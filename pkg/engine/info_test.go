package engine

import (
	"testing"
	"time"

	"github.com/seekerror/stdlib/pkg/lang"
	"github.com/stretchr/testify/assert"
)

func TestInfoMerge(t *testing.T) {
	var info Info
	info.merge(Info{Depth: lang.Some(4), Nodes: lang.Some(int64(100))})
	info.merge(Info{Depth: lang.Some(5), Time: lang.Some(time.Second)})

	depth, _ := info.Depth.V()
	assert.Equal(t, 5, depth, "later value wins")
	nodes, _ := info.Nodes.V()
	assert.Equal(t, int64(100), nodes, "absent fields leave earlier values")
	d, _ := info.Time.V()
	assert.Equal(t, time.Second, d)
	assert.False(t, isSet(info.Score))
}

func TestInfoMaskAll(t *testing.T) {
	assert.Equal(t, InfoAll, InfoBasic|InfoScore|InfoPV|InfoRefutation|InfoCurrLine)
	assert.Zero(t, InfoNone&InfoAll)
	assert.NotZero(t, InfoAll&InfoPV)
}
