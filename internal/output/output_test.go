package output

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestUI() (*UI, *bytes.Buffer, *bytes.Buffer) {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	return &UI{Out: out, ErrOut: errOut}, out, errOut
}

func TestInfo(t *testing.T) {
	u, out, _ := newTestUI()
	u.Info("hello %s", "world")
	assert.Contains(t, out.String(), "hello world")
}

func TestSuccess(t *testing.T) {
	u, out, _ := newTestUI()
	u.Success("done %d", 42)
	assert.Contains(t, out.String(), "done 42")
}

func TestWarning(t *testing.T) {
	u, _, errOut := newTestUI()
	u.Warning("careful %s", "now")
	assert.Contains(t, errOut.String(), "careful now")
}

func TestError(t *testing.T) {
	u, _, errOut := newTestUI()
	u.Error("failed %s", "badly")
	assert.Contains(t, errOut.String(), "failed badly")
}

func TestVerboseLog_Enabled(t *testing.T) {
	u, out, _ := newTestUI()
	u.Verbose = true
	u.VerboseLog("detail %d", 1)
	assert.Contains(t, out.String(), "detail 1")
}

func TestVerboseLog_Disabled(t *testing.T) {
	u, out, _ := newTestUI()
	u.Verbose = false
	u.VerboseLog("detail %d", 1)
	assert.Empty(t, out.String())
}

func TestProgress_NonTerminal(t *testing.T) {
	u, out, _ := newTestUI()
	u.Progress("reviewing %d/%d", 1, 3)
	u.EndProgress()
	assert.Contains(t, out.String(), "reviewing 1/3\n")
	assert.NotContains(t, out.String(), "\r")
}

func TestInteractive_Buffer(t *testing.T) {
	u, _, _ := newTestUI()
	assert.False(t, u.Interactive())
	assert.False(t, IsTerminal(&bytes.Buffer{}))
}

func TestColorHelpers(t *testing.T) {
	// Color helpers should return non-empty strings
	assert.NotEmpty(t, Cyan("test"))
	assert.NotEmpty(t, Green("test"))
	assert.NotEmpty(t, Yellow("test"))
	assert.NotEmpty(t, Red("test"))
	assert.NotEmpty(t, Faint("test"))
	assert.NotEmpty(t, Bold("test"))
}

func TestStatusColor(t *testing.T) {
	for _, st := range []string{"accepted", "in_progress", "pending", "rejected", "dismissed", "user_deciding"} {
		assert.Contains(t, StatusColor(st), st)
	}
	assert.Equal(t, "unknown", StatusColor("unknown"))
}

func TestFindingTypeColor(t *testing.T) {
	for _, ft := range []string{"error", "warning", "suggestion", "praise", "question"} {
		assert.Contains(t, FindingTypeColor(ft), ft)
	}
	assert.Equal(t, "other", FindingTypeColor("other"))
}

func TestSeverityColor(t *testing.T) {
	assert.Contains(t, SeverityColor("high"), "high")
	assert.Contains(t, SeverityColor("medium"), "medium")
	assert.Contains(t, SeverityColor("low"), "low")
	assert.Equal(t, "", SeverityColor(""))
}

func TestTable(t *testing.T) {
	u, out, _ := newTestUI()
	table := u.Table([]string{"ID", "Model"})
	require.NotNil(t, table)

	table.Append([]string{"style-editor", "llama3.2"})
	table.Append([]string{"fact-checker", "qwen3"})
	err := table.Render()
	require.NoError(t, err)

	result := out.String()
	assert.True(t, strings.Contains(result, "style-editor"), "table output should contain reviewer ids")
	assert.True(t, strings.Contains(result, "qwen3"), "table output should contain models")
}
