package collaboration

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransform(t *testing.T) {
	tests := []struct {
		name string
		a    Edit
		b    Edit
		want Edit
	}{
		{
			name: "insert after committed insert shifts right",
			a:    NewInsert(5, "ab", 0),
			b:    NewInsert(2, "xyz", 0),
			want: NewInsert(8, "ab", 0),
		},
		{
			name: "insert before committed insert is unchanged",
			a:    NewInsert(5, "ab", 0),
			b:    NewInsert(7, "xyz", 0),
			want: NewInsert(5, "ab", 0),
		},
		{
			name: "insert tie shifts the rebased edit",
			a:    NewInsert(5, "ab", 0),
			b:    NewInsert(5, "xyz", 0),
			want: NewInsert(8, "ab", 0),
		},
		{
			name: "insert shift counts runes",
			a:    NewInsert(5, "ab", 0),
			b:    NewInsert(0, "日本", 0),
			want: NewInsert(7, "ab", 0),
		},
		{
			name: "delete after committed insert shifts right",
			a:    NewDelete(5, 2, 0),
			b:    NewInsert(5, "xy", 0),
			want: NewDelete(7, 2, 0),
		},
		{
			name: "delete spanning a later insert point is unchanged",
			a:    NewDelete(5, 4, 0),
			b:    NewInsert(6, "xy", 0),
			want: NewDelete(5, 4, 0),
		},
		{
			name: "insert after committed delete shifts left",
			a:    NewInsert(10, "q", 0),
			b:    NewDelete(2, 3, 0),
			want: NewInsert(7, "q", 0),
		},
		{
			name: "insert inside committed delete collapses to its start",
			a:    NewInsert(4, "q", 0),
			b:    NewDelete(2, 5, 0),
			want: NewInsert(2, "q", 0),
		},
		{
			name: "insert before committed delete is unchanged",
			a:    NewInsert(2, "q", 0),
			b:    NewDelete(5, 3, 0),
			want: NewInsert(2, "q", 0),
		},
		{
			name: "delete after disjoint committed delete shifts left",
			a:    NewDelete(10, 2, 0),
			b:    NewDelete(2, 3, 0),
			want: NewDelete(7, 2, 0),
		},
		{
			name: "delete touching committed delete shifts left",
			a:    NewDelete(4, 2, 0),
			b:    NewDelete(2, 2, 0),
			want: NewDelete(2, 2, 0),
		},
		{
			name: "delete before committed delete is unchanged",
			a:    NewDelete(2, 2, 0),
			b:    NewDelete(6, 2, 0),
			want: NewDelete(2, 2, 0),
		},
		{
			name: "overlapping deletes shrink and clamp",
			a:    NewDelete(4, 4, 0),
			b:    NewDelete(2, 4, 0),
			want: NewDelete(2, 2, 0),
		},
		{
			name: "committed delete overlapping the tail shrinks in place",
			a:    NewDelete(2, 4, 0),
			b:    NewDelete(4, 4, 0),
			want: NewDelete(2, 2, 0),
		},
		{
			name: "delete swallowed by committed delete becomes empty",
			a:    NewDelete(4, 2, 0),
			b:    NewDelete(2, 8, 0),
			want: Edit{Type: OpDelete, Position: 2, Length: 0},
		},
		{
			name: "replace keeps its text",
			a:    NewReplace(6, 2, "zz", 0),
			b:    NewDelete(2, 2, 0),
			want: NewReplace(4, 2, "zz", 0),
		},
		{
			name: "committed replace acts as delete then insert",
			a:    NewInsert(8, "q", 0),
			b:    NewReplace(2, 3, "abcde", 0),
			want: NewInsert(10, "q", 0),
		},
		{
			name: "insert inside committed replace lands after its text",
			a:    NewInsert(3, "q", 0),
			b:    NewReplace(2, 3, "ab", 0),
			want: NewInsert(4, "q", 0),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Transform(tt.a, tt.b))
		})
	}
}

func TestTransform_InsertInsertConverges(t *testing.T) {
	base := "ABCD"
	committed := NewInsert(1, "X", 0)
	concurrent := NewInsert(1, "Y", 0)

	afterCommitted, err := committed.Apply(base)
	assert.NoError(t, err)
	assert.Equal(t, "AXBCD", afterCommitted)

	rebased := Transform(concurrent, committed)
	assert.Equal(t, 2, rebased.Position)

	final, err := rebased.Apply(afterCommitted)
	assert.NoError(t, err)
	assert.Equal(t, "AXYBCD", final)
}

func TestRebase(t *testing.T) {
	history := []HistoryEntry{
		{UserID: "a", Edit: NewInsert(0, "xx", 0), Version: 1},
		{UserID: "b", Edit: NewDelete(5, 2, 1), Version: 2},
		{UserID: "c", Edit: NewInsert(1, "y", 2), Version: 3},
	}

	t.Run("folds only entries newer than the base", func(t *testing.T) {
		edit := NewInsert(8, "q", 1)
		// skip v1; v2 delete [5,7) shifts to 6; v3 insert at 1 shifts to 7
		assert.Equal(t, 7, Rebase(edit, history).Position)
	})

	t.Run("current base is unchanged", func(t *testing.T) {
		edit := NewInsert(8, "q", 3)
		assert.Equal(t, edit, Rebase(edit, history))
	})

	t.Run("deterministic and pure", func(t *testing.T) {
		snapshot := make([]HistoryEntry, len(history))
		copy(snapshot, history)
		edit := NewDelete(6, 3, 0)

		first := Rebase(edit, history)
		second := Rebase(edit, history)

		assert.Equal(t, first, second)
		assert.Equal(t, snapshot, history)
		assert.Equal(t, NewDelete(6, 3, 0), edit)
	})
}
