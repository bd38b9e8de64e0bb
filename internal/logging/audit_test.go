package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditSinkWrite(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewAuditSink(dir)
	require.NoError(t, err)
	defer sink.Close()

	ts := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	require.NoError(t, sink.Write(AuditRecord{
		Timestamp:      ts,
		Event:          AuditFileProcessed,
		Path:           "/ws/docs/a.md",
		Classification: "canonical",
		Staged:         true,
		Result:         "processed",
	}))
	require.NoError(t, sink.Write(AuditRecord{
		Timestamp: ts.Add(time.Minute),
		Event:     AuditQuarantined,
		Path:      "/ws/docs/b.xyz",
		Result:    "not in any allowlist",
	}))

	data, err := os.ReadFile(filepath.Join(dir, "2026-03-14.jsonl"))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var rec AuditRecord
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, AuditFileProcessed, rec.Event)
	assert.Equal(t, "/ws/docs/a.md", rec.Path)
	assert.True(t, rec.Staged)

	require.NoError(t, json.Unmarshal([]byte(lines[1]), &rec))
	assert.Equal(t, AuditQuarantined, rec.Event)
}

func TestAuditSinkRollsOverByDate(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewAuditSink(dir)
	require.NoError(t, err)
	defer sink.Close()

	day1 := time.Date(2026, 3, 14, 23, 59, 0, 0, time.UTC)
	day2 := day1.Add(2 * time.Minute)
	require.NoError(t, sink.Write(AuditRecord{Timestamp: day1, Event: AuditFileSkipped, Result: "x"}))
	require.NoError(t, sink.Write(AuditRecord{Timestamp: day2, Event: AuditFileSkipped, Result: "x"}))

	for _, name := range []string{"2026-03-14.jsonl", "2026-03-15.jsonl"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}
}

func TestAuditSinkFillsTimestamp(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewAuditSink(dir)
	require.NoError(t, err)
	defer sink.Close()

	require.NoError(t, sink.Write(AuditRecord{Event: AuditReconcile, Result: "clean"}))

	data, err := os.ReadFile(sink.CurrentFile())
	require.NoError(t, err)
	var rec AuditRecord
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(string(data))), &rec))
	assert.False(t, rec.Timestamp.IsZero())
}
