package collaboration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEdit_Apply(t *testing.T) {
	tests := []struct {
		name    string
		edit    Edit
		content string
		want    string
	}{
		{"insert at start", NewInsert(0, "X", 0), "abc", "Xabc"},
		{"insert in middle", NewInsert(1, "XY", 0), "abc", "aXYbc"},
		{"insert at end", NewInsert(3, "X", 0), "abc", "abcX"},
		{"delete", NewDelete(1, 2, 0), "abcd", "ad"},
		{"delete to end", NewDelete(2, 2, 0), "abcd", "ab"},
		{"zero length delete", Edit{Type: OpDelete, Position: 2}, "abcd", "abcd"},
		{"replace", NewReplace(1, 2, "XYZ", 0), "abcd", "aXYZd"},
		{"replace with empty text", NewReplace(0, 1, "", 0), "abcd", "bcd"},
		{"runes not bytes", NewInsert(2, "é", 0), "日本語", "日本é語"},
		{"delete multibyte", NewDelete(0, 1, 0), "日本語", "本語"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.edit.Apply(tt.content)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEdit_ApplyOutOfRange(t *testing.T) {
	tests := []struct {
		name string
		edit Edit
	}{
		{"insert past end", NewInsert(4, "X", 0)},
		{"negative position", Edit{Type: OpInsert, Position: -1, Text: "X"}},
		{"delete past end", NewDelete(2, 3, 0)},
		{"replace past end", NewReplace(3, 2, "X", 0)},
		{"counts runes", NewDelete(0, 4, 0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content := "abc"
			if tt.name == "counts runes" {
				content = "日本語"
			}
			got, err := tt.edit.Apply(content)
			require.Error(t, err)

			var oor *OutOfRangeError
			require.ErrorAs(t, err, &oor)
			assert.Equal(t, 3, oor.ContentLength)
			assert.Equal(t, content, got)
		})
	}
}

func TestEdit_Validate(t *testing.T) {
	valid := []Edit{
		NewInsert(0, "x", 0),
		NewDelete(3, 1, 2),
		NewReplace(1, 0, "x", 0),
		NewReplace(1, 2, "", 0),
	}
	for _, e := range valid {
		assert.NoError(t, e.Validate(), "%+v", e)
	}

	invalid := []Edit{
		{Type: "move", Position: 0},
		NewInsert(0, "", 0),
		{Type: OpInsert, Position: 0, Text: "x", Length: 2},
		NewDelete(0, 0, 0),
		{Type: OpDelete, Position: 0, Length: 1, Text: "x"},
		NewReplace(0, -1, "x", 0),
		NewReplace(2, 0, "", 0),
		NewInsert(-1, "x", 0),
		NewInsert(0, "x", -1),
		NewInsert(0, string([]byte{0xff}), 0),
	}
	for _, e := range invalid {
		assert.Error(t, e.Validate(), "%+v", e)
	}
}

func TestLock_Overlaps(t *testing.T) {
	l := &Lock{Start: 5, End: 10}

	assert.True(t, l.Overlaps(10, 15))
	assert.True(t, l.Overlaps(0, 5))
	assert.True(t, l.Overlaps(6, 7))
	assert.True(t, l.Overlaps(0, 20))
	assert.False(t, l.Overlaps(11, 15))
	assert.False(t, l.Overlaps(0, 4))
}
