package progress_test

import (
	"context"
	"fmt"
	"time"

	"github.com/vlikcc/yargisalzekav2/internal/progress"
)

type countingSink struct {
	events int
}

func (s *countingSink) Consume(_ context.Context, batch []progress.Event) error {
	s.events += len(batch)
	return nil
}

func (s *countingSink) Close(context.Context) error {
	return nil
}

func ExampleHub_Emit() {
	sink := &countingSink{}
	hub := progress.NewHub(progress.Config{BufferSize: 16}, sink)

	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	hub.Emit(progress.Event{DispatchID: "d-1", Keyword: "tazminat", Stage: progress.StageSessionStart, TS: ts})
	hub.Emit(progress.Event{DispatchID: "d-1", Keyword: "tazminat", Stage: progress.StagePageDone, Page: 1, Found: 5, TS: ts})
	hub.Emit(progress.Event{DispatchID: "d-1", Keyword: "tazminat", Stage: progress.StageSessionDone, Found: 5, Dur: 3 * time.Second, TS: ts})

	if err := hub.Close(context.Background()); err != nil {
		fmt.Println("close:", err)
		return
	}
	fmt.Println("events delivered:", sink.events)
	// Output: events delivered: 3
}

// sinkFunc adapts a plain function to the Sink interface, handy for
// one-off consumers such as this per-dispatch item counter.
type sinkFunc func(ctx context.Context, batch []progress.Event) error

func (f sinkFunc) Consume(ctx context.Context, batch []progress.Event) error {
	return f(ctx, batch)
}

func (sinkFunc) Close(context.Context) error {
	return nil
}

func ExampleSink() {
	collected := 0
	sink := sinkFunc(func(_ context.Context, batch []progress.Event) error {
		for _, evt := range batch {
			if evt.Terminal() {
				collected += evt.Found
			}
		}
		return nil
	})

	hub := progress.NewHub(progress.Config{BufferSize: 16}, sink)
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	hub.Emit(progress.Event{DispatchID: "d-2", Keyword: "tazminat", Stage: progress.StageSessionDone, Found: 4, TS: ts})
	hub.Emit(progress.Event{DispatchID: "d-2", Keyword: "kira", Stage: progress.StageSessionDone, Found: 2, TS: ts})

	if err := hub.Close(context.Background()); err != nil {
		fmt.Println("close:", err)
		return
	}
	fmt.Println("items collected:", collected)
	// Output: items collected: 6
}
