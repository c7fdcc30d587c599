package browser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"mediagrab/pkg/extract"
)

func TestSnapshotScriptExposesCurrentSrc(t *testing.T) {
	assert.True(t, strings.Contains(snapshotScript, extract.CurrentSrcAttr))
	assert.Contains(t, snapshotScript, "outerHTML")
}

func TestTabCloseIsIdempotent(t *testing.T) {
	calls := 0
	tab := &Tab{cancel: func() { calls++ }}
	assert.NoError(t, tab.Close())
	assert.NoError(t, tab.Close())
	assert.Equal(t, 1, calls)
}
