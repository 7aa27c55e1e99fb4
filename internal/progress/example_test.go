package progress_test

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/webspider/internal/progress"
)

type printSink struct{}

func (printSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fmt.Println(evt.ScanID, evt.Stage)
	}
	return nil
}

func (printSink) Close(context.Context) error { return nil }

func ExampleHub() {
	hub := progress.NewHub(progress.Config{}, printSink{})
	runID := uuid.New()
	hub.Emit(progress.Event{RunID: runID, ScanID: 1, TS: time.Now(), Stage: progress.StageScanStart})
	hub.Emit(progress.Event{RunID: runID, ScanID: 1, TS: time.Now(), Stage: progress.StageScanDone})
	_ = hub.Close(context.Background())
	// Output:
	// 1 SCAN_START
	// 1 SCAN_DONE
}
