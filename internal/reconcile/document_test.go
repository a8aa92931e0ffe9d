package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workopilot/internal/domain"
)

func TestParseDocument(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{name: "minimal", input: `{"id":"t1"}`},
		{name: "null ai_metadata", input: `{"id":"t1","ai_metadata":null}`},
		{name: "full ai_metadata", input: `{"id":"t1","ai_metadata":{"last_interaction":"2024-06-01T10:00:00Z","session_ids":["s1"],"tokens_used":10,"structuring_complete":true}}`},
		{name: "known complexity", input: `{"id":"t1","complexity":"complex"}`},
		{name: "subtask without status", input: `{"id":"t1","subtasks":[{"id":"s1"}]}`},
		{name: "missing id", input: `{"status":"pending"}`, wantErr: "no id"},
		{name: "unknown task status", input: `{"id":"t1","status":"paused"}`, wantErr: `unknown status "paused"`},
		{name: "unknown complexity", input: `{"id":"t1","complexity":"huge"}`, wantErr: `unknown complexity "huge"`},
		{name: "unknown subtask status", input: `{"id":"t1","subtasks":[{"id":"s1","status":"blocked"}]}`, wantErr: `subtask s1 has unknown status "blocked"`},
		{name: "subtask without id", input: `{"id":"t1","subtasks":[{"status":"done"}]}`, wantErr: "subtask 0 has no id"},
		{name: "string tokens_used", input: `{"id":"t1","ai_metadata":{"tokens_used":"1.2k"}}`, wantErr: "invalid ai_metadata"},
		{name: "numeric last_interaction", input: `{"id":"t1","ai_metadata":{"last_interaction":1717000000}}`, wantErr: "invalid ai_metadata"},
		{name: "array ai_metadata", input: `{"id":"t1","ai_metadata":[1,2]}`, wantErr: "invalid ai_metadata"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := ParseDocument([]byte(tt.input))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "t1", doc.ID)
			assert.True(t, doc.Status.Valid())
			for _, st := range doc.Subtasks {
				assert.Equal(t, domain.SubtaskPending, st.Status)
			}
		})
	}
}
