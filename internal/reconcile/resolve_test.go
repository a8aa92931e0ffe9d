package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name   string
		facts  Facts
		want   Decision
		target string
	}{
		{
			name:   "bare id already under this task",
			facts:  Facts{DirectInTask: true, CompositeExists: true, DirectElsewhere: true},
			want:   Decision{Resolution: MatchedDirect},
			target: "sub-1",
		},
		{
			name:   "composite row exists",
			facts:  Facts{CompositeExists: true, DirectElsewhere: true},
			want:   Decision{Resolution: MatchedComposite},
			target: "t2:sub-1",
		},
		{
			name:   "bare id free",
			facts:  Facts{},
			want:   Decision{Resolution: NeedsInsert},
			target: "sub-1",
		},
		{
			name:   "bare id taken by another task",
			facts:  Facts{DirectElsewhere: true},
			want:   Decision{Resolution: NeedsInsert, UseCompositeID: true},
			target: "t2:sub-1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Resolve(tt.facts)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.target, got.TargetID("t2", "sub-1"))
		})
	}
}

func TestResolutionString(t *testing.T) {
	assert.Equal(t, "matched-direct", MatchedDirect.String())
	assert.Equal(t, "matched-composite", MatchedComposite.String())
	assert.Equal(t, "needs-insert", NeedsInsert.String())
	assert.Equal(t, "unknown", Resolution(42).String())
}
