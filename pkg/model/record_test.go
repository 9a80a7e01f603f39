package model

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================
// TEST HELPERS
// ============================================================

type fakePersister struct {
	inserts int
	updates int
	deletes int
	diffs   []map[string]interface{}

	err     error
	refresh map[string]interface{}
}

func (p *fakePersister) DoInsert(ctx context.Context, r *Record) (interface{}, error) {
	p.inserts++
	if p.err != nil {
		return nil, p.err
	}
	r.Hydrate(map[string]interface{}{"id": int64(1)})
	return int64(1), nil
}

func (p *fakePersister) DoUpdate(ctx context.Context, r *Record) (interface{}, error) {
	p.updates++
	p.diffs = append(p.diffs, r.Diff())
	if p.err != nil {
		return nil, p.err
	}
	return r.Get("id"), nil
}

func (p *fakePersister) DoDelete(ctx context.Context, r *Record) (interface{}, error) {
	p.deletes++
	if p.err != nil {
		return nil, p.err
	}
	return int64(1), nil
}

type refreshingPersister struct {
	fakePersister
}

func (p *refreshingPersister) Refresh(ctx context.Context, r *Record) (map[string]interface{}, error) {
	return p.refresh, nil
}

func (p *fakePersister) calls() int {
	return p.inserts + p.updates + p.deletes
}

// ============================================================
// STATE
// ============================================================

func TestRecord_NewStates(t *testing.T) {
	p := &fakePersister{}

	unsaved := NewRecord(p, map[string]interface{}{"name": "Ana"}, false, false)
	assert.Equal(t, Unsaved, unsaved.State())
	assert.True(t, unsaved.IsModified())
	assert.False(t, unsaved.IsStored())
	assert.Nil(t, unsaved.Diff())

	stored := NewRecord(p, map[string]interface{}{"id": 1}, true, false)
	assert.Equal(t, SavedClean, stored.State())
	assert.False(t, stored.IsModified())
	assert.Empty(t, stored.Diff())
}

func TestRecord_NewCopiesData(t *testing.T) {
	data := map[string]interface{}{"name": "Ana"}
	r := NewRecord(&fakePersister{}, data, false, false)

	data["name"] = "Bob"
	assert.Equal(t, "Ana", r.Get("name"))
}

func TestRecord_SetOnUnsavedTracksNothing(t *testing.T) {
	r := NewRecord(&fakePersister{}, nil, false, false)

	r.Set("name", "Ana")

	assert.Equal(t, Unsaved, r.State())
	assert.Nil(t, r.Diff())
	assert.Equal(t, "Ana", r.Get("name"))
}

func TestRecord_SetOnStoredBecomesDirty(t *testing.T) {
	r := NewRecord(&fakePersister{}, map[string]interface{}{"id": 1, "name": "Ana"}, true, false)

	r.Set("name", "Bea")
	r.Set("name", "Cy")

	assert.Equal(t, SavedDirty, r.State())
	assert.True(t, r.IsModified())
	assert.Equal(t, map[string]interface{}{"name": "Cy"}, r.Diff())
	assert.Equal(t, "Cy", r.Get("name"))
}

func TestRecord_SetFromMap(t *testing.T) {
	r := NewRecord(&fakePersister{}, map[string]interface{}{"id": 1}, true, false)

	r.SetFromMap(map[string]interface{}{"name": "Ana", "unknown_column": true})

	assert.Equal(t, map[string]interface{}{"name": "Ana", "unknown_column": true}, r.Diff())
	assert.Equal(t, []string{"id", "name", "unknown_column"}, r.Fields())
}

func TestRecord_HydrateDoesNotTrack(t *testing.T) {
	r := NewRecord(&fakePersister{}, map[string]interface{}{"id": 1}, true, false)

	r.Hydrate(map[string]interface{}{"updated_at": "now"})

	assert.Equal(t, SavedClean, r.State())
	assert.Equal(t, "now", r.Get("updated_at"))
}

func TestRecord_DiffIsACopy(t *testing.T) {
	r := NewRecord(&fakePersister{}, nil, true, false)
	r.Set("a", 1)

	d := r.Diff()
	d["b"] = 2

	assert.Len(t, r.Diff(), 1)
}

// ============================================================
// SAVE
// ============================================================

func TestRecord_SaveUnsavedInsertsOnce(t *testing.T) {
	p := &fakePersister{}
	r := NewRecord(p, map[string]interface{}{"name": "Ana"}, false, false)

	result, err := r.Save(context.Background())

	require.NoError(t, err)
	assert.Equal(t, int64(1), result)
	assert.Equal(t, 1, p.inserts)
	assert.Equal(t, 0, p.updates)
	assert.Equal(t, SavedClean, r.State())
	assert.Equal(t, int64(1), r.Get("id"))
}

func TestRecord_SaveCleanFails(t *testing.T) {
	p := &fakePersister{}
	r := NewRecord(p, map[string]interface{}{"id": 1}, true, false)

	_, err := r.Save(context.Background())

	var stateErr *RecordStateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, "save", stateErr.Op)
	assert.ErrorIs(t, err, ErrNotModified)
	assert.Zero(t, p.calls())
}

func TestRecord_SaveDirtyUpdatesWithDiff(t *testing.T) {
	p := &fakePersister{}
	r := NewRecord(p, map[string]interface{}{"id": 1, "name": "Ana", "age": 30}, true, false)

	r.Set("name", "Bea")
	_, err := r.Save(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, p.updates)
	assert.Equal(t, 0, p.inserts)
	require.Len(t, p.diffs, 1)
	assert.Equal(t, map[string]interface{}{"name": "Bea"}, p.diffs[0])
	assert.Equal(t, SavedClean, r.State())

	_, err = r.Save(context.Background())
	assert.ErrorIs(t, err, ErrNotModified)
	assert.Equal(t, 1, p.updates)
}

func TestRecord_SaveAfterInsertTracksChanges(t *testing.T) {
	p := &fakePersister{}
	r := NewRecord(p, nil, false, false)
	r.Set("name", "Ana")

	_, err := r.Save(context.Background())
	require.NoError(t, err)

	r.Set("name", "Bea")
	assert.Equal(t, SavedDirty, r.State())
	assert.Equal(t, map[string]interface{}{"name": "Bea"}, r.Diff())
}

func TestRecord_SaveFailureKeepsState(t *testing.T) {
	boom := errors.New("boom")

	p := &fakePersister{err: boom}
	unsaved := NewRecord(p, nil, false, false)
	_, err := unsaved.Save(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, Unsaved, unsaved.State())

	dirty := NewRecord(p, map[string]interface{}{"id": 1}, true, false)
	dirty.Set("name", "Ana")
	_, err = dirty.Save(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, SavedDirty, dirty.State())
	assert.Equal(t, map[string]interface{}{"name": "Ana"}, dirty.Diff())
}

// ============================================================
// READ-ONLY
// ============================================================

func TestRecord_ReadOnlyBlocksEverything(t *testing.T) {
	ctx := context.Background()

	for _, stored := range []bool{false, true} {
		p := &fakePersister{}
		r := NewRecord(p, map[string]interface{}{"id": 1}, stored, true)
		r.Set("name", "Ana")

		_, err := r.Save(ctx)
		assert.True(t, IsRecordStateError(err))
		assert.ErrorIs(t, err, ErrReadOnly)

		_, err = r.Remove(ctx)
		var stateErr *RecordStateError
		require.ErrorAs(t, err, &stateErr)
		assert.Equal(t, "remove", stateErr.Op)
		assert.ErrorIs(t, err, ErrReadOnly)

		assert.Zero(t, p.calls())
	}
}

func TestRecord_SetReadOnlyLater(t *testing.T) {
	p := &fakePersister{}
	r := NewRecord(p, nil, false, false)
	assert.False(t, r.IsReadOnly())

	r.SetReadOnly(true)
	assert.True(t, r.IsReadOnly())
	_, err := r.Save(context.Background())
	assert.ErrorIs(t, err, ErrReadOnly)

	r.SetReadOnly(false)
	_, err = r.Save(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 1, p.inserts)
}

// ============================================================
// REMOVE / REFRESH
// ============================================================

func TestRecord_RemoveKeepsState(t *testing.T) {
	p := &fakePersister{}
	r := NewRecord(p, map[string]interface{}{"id": 1}, true, false)
	r.Set("name", "Ana")

	result, err := r.Remove(context.Background())

	require.NoError(t, err)
	assert.Equal(t, int64(1), result)
	assert.Equal(t, 1, p.deletes)
	assert.Equal(t, SavedDirty, r.State())
}

func TestRecord_Refresh(t *testing.T) {
	p := &refreshingPersister{}
	p.refresh = map[string]interface{}{"id": 1, "name": "Stored"}

	r := NewRecord(p, map[string]interface{}{"id": 1, "name": "Ana"}, true, false)
	r.Set("name", "Local")

	require.NoError(t, r.Refresh(context.Background()))
	assert.Equal(t, "Stored", r.Get("name"))
	assert.Equal(t, SavedClean, r.State())
}

func TestRecord_RefreshErrors(t *testing.T) {
	unsaved := NewRecord(&refreshingPersister{}, nil, false, false)
	assert.ErrorIs(t, unsaved.Refresh(context.Background()), ErrNotStored)

	plain := NewRecord(&fakePersister{}, nil, true, false)
	assert.ErrorIs(t, plain.Refresh(context.Background()), ErrRefreshUnsupported)
}

// ============================================================
// PLUGINS
// ============================================================

func TestRecord_Plugins(t *testing.T) {
	var events []string
	plugin := PluginFuncs{
		Before: func(ctx context.Context, r *Record) error {
			events = append(events, "before:"+r.State().String())
			return nil
		},
		After: func(ctx context.Context, r *Record, result interface{}) error {
			events = append(events, "after:"+r.State().String())
			return nil
		},
	}

	r := NewRecord(&fakePersister{}, nil, false, false).Use(plugin)
	_, err := r.Save(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"before:unsaved", "after:saved-clean"}, events)
}

func TestRecord_PluginVeto(t *testing.T) {
	veto := errors.New("not today")
	p := &fakePersister{}
	r := NewRecord(p, nil, false, false).Use(PluginFuncs{
		Before: func(ctx context.Context, r *Record) error { return veto },
	})

	_, err := r.Save(context.Background())

	assert.ErrorIs(t, err, veto)
	assert.Zero(t, p.inserts)
	assert.Equal(t, Unsaved, r.State())
}

func TestRecord_AfterSaveErrorKeepsSavedState(t *testing.T) {
	failed := errors.New("audit failed")
	r := NewRecord(&fakePersister{}, nil, false, false).Use(PluginFuncs{
		After: func(ctx context.Context, r *Record, result interface{}) error { return failed },
	})

	result, err := r.Save(context.Background())

	assert.ErrorIs(t, err, failed)
	assert.Equal(t, int64(1), result)
	assert.Equal(t, SavedClean, r.State())
}
