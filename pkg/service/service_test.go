package service

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/frontdoor/pkg/component"
	"github.com/cuemby/frontdoor/pkg/endpoint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccessLogFormat(t *testing.T) {
	var buf bytes.Buffer
	tree := component.NewComponentTree(component.NewRegistry())
	svc := NewAccessLogService(tree.NewControlContext(), "log0", AccessLogConfig{}, &buf)
	require.NoError(t, svc.Start(context.Background()))

	svc.Log(endpoint.AccessLogEntry{
		Timestamp:     time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Origin:        "127.0.0.1:4321",
		Protocol:      "http-1.1",
		Method:        "get",
		URL:           "/a/b",
		Status:        200,
		ContentLength: 42,
		Duration:      15 * time.Millisecond,
	})

	line := buf.String()
	fields := splitFields(line)
	require.Len(t, fields, 9)
	assert.Equal(t, "127.0.0.1:4321", fields[1])
	assert.Equal(t, "http-1.1", fields[2])
	assert.Equal(t, "get", fields[3])
	assert.Equal(t, "/a/b", fields[4])
	assert.Equal(t, "200", fields[5])
	assert.Equal(t, "42", fields[6])
	assert.Equal(t, "ok", fields[8])
}

func splitFields(line string) []string {
	var fields []string
	var cur []byte
	for i := 0; i < len(line); i++ {
		c := line[i]
		if c == ' ' || c == '\n' {
			if len(cur) > 0 {
				fields = append(fields, string(cur))
				cur = nil
			}
			continue
		}
		cur = append(cur, c)
	}
	return fields
}

func TestRateLimitServiceGrants(t *testing.T) {
	tree := component.NewComponentTree(component.NewRegistry())
	svc := NewRateLimitService(tree.NewControlContext(), "rl0", RateLimitConfig{Capacity: 2, FlowRate: 1, MaxQueue: 1, InitialAvailable: 2})
	require.NoError(t, svc.Start(context.Background()))
	g := svc.Bucket().RequestGrant(context.Background(), 2)
	assert.True(t, g.Granted)
	require.NoError(t, svc.Stop(context.Background(), false))
}

func TestProcessInfoServiceLoadsEarlierRuns(t *testing.T) {
	dir := t.TempDir()
	tree := component.NewComponentTree(component.NewRegistry())

	first := NewProcessInfoService(tree.NewControlContext(), "pi0", ProcessInfoConfig{Directory: dir})
	require.NoError(t, first.Start(context.Background()))
	require.NoError(t, first.Stop(context.Background(), false))

	raw, err := os.ReadFile(filepath.Join(dir, "process-info.json"))
	require.NoError(t, err)
	var doc processInfoDocument
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, "stopped", doc.Disposition)

	second := NewProcessInfoService(tree.NewControlContext(), "pi1", ProcessInfoConfig{Directory: dir})
	require.NoError(t, second.Start(context.Background()))
	require.Len(t, second.doc.EarlierRuns, 1)
	assert.Equal(t, "stopped", second.doc.EarlierRuns[0].Disposition)
}
