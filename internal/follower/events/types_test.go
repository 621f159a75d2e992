package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscipline_IsValid(t *testing.T) {
	t.Parallel()
	tests := []struct {
		d    Discipline
		want bool
	}{
		{DisciplineContinuous, true},
		{DisciplineLongpoll, true},
		{"normal", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.d.IsValid(), "discipline %q", tt.d)
	}
}

func TestChangeRecord_JSON(t *testing.T) {
	t.Parallel()
	var rec ChangeRecord
	require.NoError(t, json.Unmarshal([]byte(`{"seq":3,"id":"a","doc":{"_id":"a","n":1}}`), &rec))

	assert.Equal(t, int64(3), rec.Seq)
	assert.Equal(t, "a", rec.ID)
	assert.True(t, rec.HasDoc())
	assert.JSONEq(t, `{"_id":"a","n":1}`, string(rec.Doc))
}

func TestChangeRecord_HasDoc(t *testing.T) {
	t.Parallel()
	assert.False(t, (&ChangeRecord{Seq: 1}).HasDoc())
	assert.False(t, (&ChangeRecord{Seq: 1, Doc: json.RawMessage("null")}).HasDoc())
}
