package domain

import (
	"context"
	"time"
)

type ProgressKind string

const (
	ProgressStageStarted   ProgressKind = "stage_started"
	ProgressStageFinished  ProgressKind = "stage_finished"
	ProgressCrawlLayer     ProgressKind = "crawl_layer"
	ProgressPaperFetched   ProgressKind = "paper_fetched"
	ProgressPaperCached    ProgressKind = "paper_cached"
	ProgressPaperSkipped   ProgressKind = "paper_skipped"
	ProgressSourceAccepted ProgressKind = "source_accepted"
	ProgressSourceDropped  ProgressKind = "source_dropped"
)

// ProgressEvent is one typed notification in the ordered stream a caller
// may attach to a query.
type ProgressEvent struct {
	Stage   string       `json:"stage"`
	Kind    ProgressKind `json:"kind"`
	Message string       `json:"message,omitempty"`
	Depth   int          `json:"depth,omitempty"`
	PaperID string       `json:"paper_id,omitempty"`
	Count   int          `json:"count,omitempty"`
	At      time.Time    `json:"at"`
}

// ProgressSink delivers events; a nil sink drops them.
type ProgressSink chan<- ProgressEvent

// Emit blocks until the event is delivered or ctx is done.
func (s ProgressSink) Emit(ctx context.Context, ev ProgressEvent) {
	if s == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	select {
	case s <- ev:
	case <-ctx.Done():
	}
}
