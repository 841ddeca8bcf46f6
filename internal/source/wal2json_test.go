package source

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lucasgelfond/puffgres/internal/change"
)

func TestDecodeFrameInsert(t *testing.T) {
	raw := []byte(`{
		"action": "I",
		"schema": "public",
		"table": "users",
		"columns": [
			{"name": "id", "type": "uuid", "value": "2f6a0e3e-4c1a-4a9d-9e2c-000000000001"},
			{"name": "plan", "type": "text", "value": "pro"},
			{"name": "score", "type": "integer", "value": 42},
			{"name": "archived", "type": "boolean", "value": false},
			{"name": "bio", "type": "text", "value": null}
		]
	}`)

	f, err := decodeFrame(raw)
	require.NoError(t, err)
	require.Equal(t, "I", f.Action)

	c, err := rowToChange(f, change.LSN(100), 7, time.Time{})
	require.NoError(t, err)
	require.Equal(t, change.OpInsert, c.Op)
	require.Equal(t, "public", c.Schema)
	require.Equal(t, "users", c.Relation)

	plan, ok := c.New.Get("plan")
	require.True(t, ok)
	s, ok := plan.AsString()
	require.True(t, ok)
	require.Equal(t, "pro", s)

	score, ok := c.New.Get("score")
	require.True(t, ok)
	i, ok := score.AsInt()
	require.True(t, ok)
	require.EqualValues(t, 42, i)

	archived, ok := c.New.Get("archived")
	require.True(t, ok)
	b, ok := archived.AsBool()
	require.True(t, ok)
	require.False(t, b)

	bio, ok := c.New.Get("bio")
	require.True(t, ok)
	require.True(t, bio.IsNull())
}

func TestDecodeFrameUpdateCarriesOldFromIdentity(t *testing.T) {
	raw := []byte(`{
		"action": "U",
		"schema": "public",
		"table": "users",
		"columns": [{"name": "id", "type": "integer", "value": 1}, {"name": "plan", "type": "text", "value": "free"}],
		"identity": [{"name": "id", "type": "integer", "value": 1}, {"name": "plan", "type": "text", "value": "pro"}]
	}`)

	f, err := decodeFrame(raw)
	require.NoError(t, err)

	c, err := rowToChange(f, change.LSN(200), 8, time.Time{})
	require.NoError(t, err)
	require.Equal(t, change.OpUpdate, c.Op)

	newPlan, _ := c.New.Get("plan")
	s, _ := newPlan.AsString()
	require.Equal(t, "free", s)

	oldPlan, _ := c.Old.Get("plan")
	s, _ = oldPlan.AsString()
	require.Equal(t, "pro", s)
}

func TestDecodeFrameDeleteUsesIdentity(t *testing.T) {
	raw := []byte(`{
		"action": "D",
		"schema": "public",
		"table": "users",
		"identity": [{"name": "id", "type": "integer", "value": 9}]
	}`)

	f, err := decodeFrame(raw)
	require.NoError(t, err)

	c, err := rowToChange(f, change.LSN(300), 9, time.Time{})
	require.NoError(t, err)
	require.Equal(t, change.OpDelete, c.Op)
	require.Nil(t, c.New)

	id, ok := c.Old.Get("id")
	require.True(t, ok)
	i, _ := id.AsInt()
	require.EqualValues(t, 9, i)
}

func TestDecodeFrameBeginAndCommitAreNotRowFrames(t *testing.T) {
	begin, err := decodeFrame([]byte(`{"action": "B", "xid": 55}`))
	require.NoError(t, err)
	require.Equal(t, "B", begin.Action)
	require.EqualValues(t, 55, begin.Xid)

	_, err = rowToChange(begin, change.LSN(1), 55, time.Time{})
	require.Error(t, err)

	commit, err := decodeFrame([]byte(`{"action": "C", "nextlsn": "0/1A2B3C"}`))
	require.NoError(t, err)
	require.Equal(t, "C", commit.Action)
	require.Equal(t, "0/1A2B3C", commit.NextLSN)
}

func TestDecodeFrameToleratesUnknownFields(t *testing.T) {
	raw := []byte(`{
		"action": "I",
		"schema": "public",
		"table": "users",
		"columns": [{"name": "id", "type": "integer", "value": 1}],
		"pk": ["id"],
		"somethingFuture": {"nested": true}
	}`)
	f, err := decodeFrame(raw)
	require.NoError(t, err)
	require.Equal(t, "I", f.Action)
	require.Len(t, f.Columns, 1)
}

func TestDecodeColumnValueJSONBDecodesToJSONKind(t *testing.T) {
	col := wal2jsonColumn{Name: "settings", Type: "jsonb", Value: []byte(`{"theme":"dark"}`)}
	v, err := decodeColumnValue(col)
	require.NoError(t, err)
	require.Equal(t, change.KindJSON, v.Kind())
	raw, ok := v.AsJSON()
	require.True(t, ok)
	require.JSONEq(t, `{"theme":"dark"}`, string(raw))
}

func TestDecodeColumnValueTimestamp(t *testing.T) {
	col := wal2jsonColumn{Name: "created_at", Type: "timestamp with time zone", Value: []byte(`"2024-03-01T12:00:00.5Z"`)}
	v, err := decodeColumnValue(col)
	require.NoError(t, err)
	tm, ok := v.AsTimestamp()
	require.True(t, ok)
	require.Equal(t, 2024, tm.Year())
}
