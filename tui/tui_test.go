package tui

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withoutTTY(t *testing.T) {
	orig := HasTTY
	HasTTY = false
	t.Cleanup(func() { HasTTY = orig })
}

func TestHasTTY(t *testing.T) {
	assert.Contains(t, []bool{true, false}, HasTTY)
}

func TestPlainText(t *testing.T) {
	withoutTTY(t)
	assert.Equal(t, "stats", Title("stats"))
	assert.Equal(t, "narrative-cache purge narr:*", Command("purge", "narr:*"))
	assert.Equal(t, "abcdefg...", MaxWidth("abcdefghijklmnop", 10))
	assert.Equal(t, "short", MaxWidth("short", 10))
}

func TestTablePlain(t *testing.T) {
	withoutTTY(t)
	var buf bytes.Buffer
	Table(&buf, []string{"metric", "value"}, [][]string{{"keys", "3"}, {"hit rate", "50.0%"}})
	assert.Equal(t, "metric\tvalue\nkeys\t3\nhit rate\t50.0%\n", buf.String())
}

func TestMessagesPlain(t *testing.T) {
	withoutTTY(t)
	var buf bytes.Buffer
	ShowSuccess(&buf, "deleted %d keys", 4)
	ShowWarning(&buf, "breaker %s", "open")
	assert.Equal(t, " ✓ deleted 4 keys\n ✕ breaker open\n", buf.String())
}

func TestAskWithoutTTY(t *testing.T) {
	withoutTTY(t)
	ok, err := Ask("Delete?", true)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = Ask("Delete?", false)
	require.NoError(t, err)
	assert.False(t, ok)
}
func TestSpinnerWithoutTTY(t *testing.T) {
	withoutTTY(t)
	ran := false
	ShowSpinner(context.Background(), "working", func() { ran = true })
	assert.True(t, ran)
}
