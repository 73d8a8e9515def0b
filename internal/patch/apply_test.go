package patch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApply_DoesNotMutateInput(t *testing.T) {
	base := board()

	next, err := Apply(base, []Patch{
		{Op: OpReplace, Path: Path{Key("tasks"), Key("t1"), Key("title")}, Value: "B"},
	})
	require.NoError(t, err)

	assert.Equal(t, "A", base["tasks"].(map[string]any)["t1"].(map[string]any)["title"])
	assert.Equal(t, "B", next.(map[string]any)["tasks"].(map[string]any)["t1"].(map[string]any)["title"])
}

func TestApply_ReplaceMissingKey(t *testing.T) {
	base := board()

	_, err := Apply(base, []Patch{
		{Op: OpReplace, Path: Path{Key("tasks"), Key("t3"), Key("title")}, Value: "B"},
	})
	require.Error(t, err)

	var applyErr *ApplyError
	require.ErrorAs(t, err, &applyErr)
	assert.Equal(t, OpReplace, applyErr.Op)
	assert.Equal(t, "tasks.t3.title", applyErr.Path)
}

func TestApply_RemoveMissingKey(t *testing.T) {
	base := board()

	_, err := Apply(base, []Patch{
		{Op: OpRemove, Path: Path{Key("tasks"), Key("t3")}},
	})
	var applyErr *ApplyError
	require.ErrorAs(t, err, &applyErr)
}

func TestApply_ShapeMismatch(t *testing.T) {
	base := board()

	// Index step into an object.
	_, err := Apply(base, []Patch{
		{Op: OpReplace, Path: Path{Key("tasks"), Index(0)}, Value: "x"},
	})
	var applyErr *ApplyError
	require.ErrorAs(t, err, &applyErr)

	// Key step into an array.
	_, err = Apply(base, []Patch{
		{Op: OpReplace, Path: Path{Key("order"), Key("first")}, Value: "x"},
	})
	require.ErrorAs(t, err, &applyErr)
}

func TestApply_ArrayInsertAndRemove(t *testing.T) {
	base := map[string]any{"order": []any{"a", "c"}}

	next, err := Apply(base, []Patch{
		{Op: OpAdd, Path: Path{Key("order"), Index(1)}, Value: "b"},
	})
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b", "c"}, next.(map[string]any)["order"])

	next, err = Apply(next, []Patch{
		{Op: OpRemove, Path: Path{Key("order"), Index(0)}},
	})
	require.NoError(t, err)
	assert.Equal(t, []any{"b", "c"}, next.(map[string]any)["order"])

	_, err = Apply(next, []Patch{
		{Op: OpAdd, Path: Path{Key("order"), Index(5)}, Value: "z"},
	})
	var applyErr *ApplyError
	require.ErrorAs(t, err, &applyErr)
}

func TestApply_AddThenDependentEdit(t *testing.T) {
	// The dependent-cascade shape: an edit whose parent was created by
	// an earlier mutation fails once that parent is gone.
	base := board()

	withT3, err := Apply(base, []Patch{
		{Op: OpAdd, Path: Path{Key("tasks"), Key("t3")}, Value: map[string]any{"title": "C"}},
	})
	require.NoError(t, err)

	edit := []Patch{
		{Op: OpReplace, Path: Path{Key("tasks"), Key("t3"), Key("title")}, Value: "C2"},
	}

	_, err = Apply(withT3, edit)
	require.NoError(t, err)

	_, err = Apply(base, edit)
	var applyErr *ApplyError
	require.ErrorAs(t, err, &applyErr)
}

func TestApply_SequenceStopsAtFirstError(t *testing.T) {
	base := board()

	_, err := Apply(base, []Patch{
		{Op: OpReplace, Path: Path{Key("tasks"), Key("t1"), Key("title")}, Value: "B"},
		{Op: OpReplace, Path: Path{Key("missing"), Key("x")}, Value: 1},
	})
	require.Error(t, err)

	// The input is still pristine even though the first patch applied.
	assert.Equal(t, "A", base["tasks"].(map[string]any)["t1"].(map[string]any)["title"])
}

func TestApply_ClonesPatchValues(t *testing.T) {
	base := map[string]any{"tasks": map[string]any{}}
	payload := map[string]any{"title": "C"}

	next, err := Apply(base, []Patch{
		{Op: OpAdd, Path: Path{Key("tasks"), Key("t3")}, Value: payload},
	})
	require.NoError(t, err)

	payload["title"] = "MUTATED"
	got := next.(map[string]any)["tasks"].(map[string]any)["t3"].(map[string]any)
	assert.Equal(t, "C", got["title"])
}
