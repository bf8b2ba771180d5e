package httpadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/kirillkom/paper-qa/internal/core/domain"
	"github.com/kirillkom/paper-qa/internal/core/ports"
)

type eventStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newEventStream(w http.ResponseWriter) (*eventStream, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &eventStream{w: w, flusher: flusher}, true
}

// send writes one named event. Write errors mean the client went away;
// the request context is cancelled by the server in that case.
func (s *eventStream) send(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return
	}
	s.flusher.Flush()
}

func (s *eventStream) sendError(err error) {
	s.send("error", map[string]any{
		"status": mapErrorToHTTPStatus(err),
		"error":  err.Error(),
	})
}

// streamAnswer forwards progress events while the answer is computed. The
// events channel is closed only after the answerer has returned.
func streamAnswer(ctx context.Context, answerer ports.QuestionAnswerer, q domain.Question, stream *eventStream) (*domain.Answer, error) {
	events := make(chan domain.ProgressEvent, 32)
	type result struct {
		answer *domain.Answer
		err    error
	}
	done := make(chan result, 1)
	go func() {
		answer, err := answerer.AnswerQuestionStream(ctx, q, events)
		close(events)
		done <- result{answer: answer, err: err}
	}()

	for ev := range events {
		stream.send("progress", ev)
	}
	res := <-done
	return res.answer, res.err
}
