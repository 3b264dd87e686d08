package review

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectLines(t *testing.T) {
	content := "one\ntwo\nthree\nfour\n"

	sel, err := SelectLines(content, "2-3")
	require.NoError(t, err)
	assert.Equal(t, "two\nthree", sel.Text)
	assert.Equal(t, 2, sel.StartLine)
	assert.Equal(t, 3, sel.EndLine)

	sel, err = SelectLines(content, "4")
	require.NoError(t, err)
	assert.Equal(t, "four", sel.Text)

	sel, err = SelectLines(content, "3-99")
	require.NoError(t, err)
	assert.Equal(t, 4, sel.EndLine)

	sel, err = SelectLines(content, "")
	require.NoError(t, err)
	assert.Nil(t, sel)

	for _, bad := range []string{"x", "3-1", "0-2", "9", "2-y"} {
		_, err := SelectLines(content, bad)
		assert.Error(t, err, bad)
	}
}
