package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"ardupilot-manager/pkg/model"
)

func TestRecordAndList(t *testing.T) {
	ctx := context.Background()
	j, err := Open(ctx, filepath.Join(t.TempDir(), "state", "journal.db"))
	assert.Equal(t, err, nil)
	defer j.Close()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, j.Record(ctx, model.JournalEntry{Op: "add", Endpoint: "QGC", Result: "ok", Timestamp: base}), nil)
	assert.Equal(t, j.Record(ctx, model.JournalEntry{Op: "remove", Endpoint: "QGC", Result: "failed", Detail: "boom", Timestamp: base.Add(time.Second)}), nil)
	assert.Equal(t, j.Record(ctx, model.JournalEntry{Op: "rollback", Result: "ok", Timestamp: base.Add(2 * time.Second)}), nil)

	entries, err := j.List(ctx, 2)
	assert.Equal(t, err, nil)
	assert.Equal(t, len(entries), 2)
	assert.Equal(t, entries[0].Op, "rollback")
	assert.Equal(t, entries[0].Endpoint, "")
	assert.Equal(t, entries[1].Detail, "boom")
	assert.NotEqual(t, entries[1].ID, "")
	assert.Equal(t, entries[1].Timestamp.Equal(base.Add(time.Second)), true)

	n, err := j.Prune(ctx, base.Add(time.Second))
	assert.Equal(t, err, nil)
	assert.Equal(t, n, int64(1))
	entries, err = j.List(ctx, 0)
	assert.Equal(t, err, nil)
	assert.Equal(t, len(entries), 2)
}
