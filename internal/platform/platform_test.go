package platform

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	p, err := Parse(" iOS ")
	require.NoError(t, err)
	assert.Equal(t, IOS, p)

	p, err = Parse("unknown")
	require.NoError(t, err)
	assert.Equal(t, Unknown, p)

	_, err = Parse("amiga")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownPlatform))

	_, err = Parse(Any)
	assert.Error(t, err, "wildcard is a tag, not a label")
}

func TestValidTag(t *testing.T) {
	assert.True(t, ValidTag("any"))
	assert.True(t, ValidTag("android"))
	assert.False(t, ValidTag("Android"))
	assert.False(t, ValidTag(""))
}

func TestLabelsSorted(t *testing.T) {
	labels := Labels()
	require.Len(t, labels, 6)
	for i := 1; i < len(labels); i++ {
		assert.Less(t, labels[i-1], labels[i])
	}
}
