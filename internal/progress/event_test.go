package progress

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestEventValidate(t *testing.T) {
	t.Parallel()

	runID := uuid.New()
	now := time.Now()
	tests := []struct {
		name string
		evt  Event
		want string
	}{
		{name: "start", evt: Event{RunID: runID, TS: now, Stage: StageScanStart}},
		{name: "missing run", evt: Event{TS: now, Stage: StageScanStart}, want: "run id"},
		{name: "negative scan", evt: Event{RunID: runID, ScanID: -1, TS: now, Stage: StageScanStart}, want: "scan id"},
		{name: "missing ts", evt: Event{RunID: runID, Stage: StageScanStart}, want: "timestamp"},
		{name: "unknown stage", evt: Event{RunID: runID, TS: now, Stage: "NOPE"}, want: "unknown stage"},
		{name: "progress range", evt: Event{RunID: runID, TS: now, Stage: StageScanProgress, Progress: -1}, want: "out of range"},
		{
			name: "read without site",
			evt:  Event{RunID: runID, TS: now, Stage: StageResourceRead, StatusClass: "2xx"},
			want: "site",
		},
		{
			name: "read without class",
			evt:  Event{RunID: runID, TS: now, Stage: StageResourceRead, Site: "example.com"},
			want: "status class",
		},
		{name: "negative dur", evt: Event{RunID: runID, TS: now, Stage: StageScanDone, Dur: -time.Second}, want: "duration"},
		{name: "done", evt: Event{RunID: runID, ScanID: 3, TS: now, Stage: StageScanDone, Dur: time.Second}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.evt.Validate()
			if tc.want == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tc.want)
		})
	}
}
