package main

import (
	"bytes"
	"testing"

	"livecount/internal/models"
	"livecount/internal/rollup"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteOutput(t *testing.T) {
	res := rollup.Result{RunID: "01J0000000000000000000000", Scanned: 3, Applied: 2, Skipped: 1}

	var buf bytes.Buffer
	require.NoError(t, writeOutput(&buf, "json", res))
	assert.JSONEq(t, `{"runId":"01J0000000000000000000000","scanned":3,"applied":2,"skipped":1,"failed":0,"viewHistory":0}`, buf.String())

	buf.Reset()
	require.NoError(t, writeOutput(&buf, "yaml", res))
	assert.Contains(t, buf.String(), "run_id: 01J0000000000000000000000\n")
	assert.Contains(t, buf.String(), "applied: 2\n")
}

func TestWriteOutput_BroadcastReportOmitsMissingSummary(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeOutput(&buf, "yaml", broadcastReport{Live: models.BroadcastStats{BroadcastID: 4, Likes: 2}}))
	assert.Contains(t, buf.String(), "broadcastId: 4")
	assert.NotContains(t, buf.String(), "summary")
}

func TestParseBroadcastID(t *testing.T) {
	id, err := parseBroadcastID("42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	for _, bad := range []string{"0", "-1", "x", ""} {
		_, err := parseBroadcastID(bad)
		assert.Error(t, err, bad)
	}
}

func TestRootCommandTree(t *testing.T) {
	root := newRootCmd()
	for _, path := range [][]string{
		{"flush"},
		{"stats", "broadcast"},
		{"stats", "vod"},
		{"teardown"},
		{"migrate", "up"},
		{"migrate", "status"},
		{"migrate", "down"},
		{"seed"},
	} {
		cmd, _, err := root.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
}

func TestRootRejectsUnknownOutput(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"stats", "vod", "1", "--output", "xml"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported output")
}
