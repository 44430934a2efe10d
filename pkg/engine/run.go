package engine

import (
	"context"
	"errors"
	"io"

	"github.com/germanamz/switchboard/pkg/chats/event"
	"github.com/germanamz/switchboard/pkg/modeladapter"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Run drives one encoded request to completion. It forwards every event the
// adapter decodes as soon as it is produced and, when an attempt fails with
// a retryable error, emits a retry event, waits, and sends the same request
// again. Nothing runs in the background: all work happens inside Recv.
//
// A Run is not safe for concurrent use. Independent runs share nothing but
// the read-only model descriptors and the adapter's HTTP client.
type Run struct {
	id        string
	sessionID string
	ctx       context.Context
	eng       *Engine
	b         *backend
	req       *modeladapter.Request
	span      trace.Span

	stream   modeladapter.Streamer
	pending  []event.Event
	attempt  int
	wait     *modeladapter.RetryContext
	started  bool
	metaSeen bool
	finished bool
	ended    bool
	closed   bool
	summary  RunSummary
}

var _ modeladapter.Streamer = (*Run)(nil)

func newRun(ctx context.Context, e *Engine, b *backend, sessionID string, req *modeladapter.Request) *Run {
	ctx, span := e.tracer.Start(ctx, "model.stream",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("switchboard.provider", req.Model.Provider),
			attribute.String("switchboard.model", req.Model.ID),
			attribute.String("switchboard.family", string(req.Model.Family)),
			attribute.Int("switchboard.request_bytes", len(req.Body)),
		),
	)

	r := &Run{
		id:        newRunID(),
		sessionID: sessionID,
		ctx:       ctx,
		eng:       e,
		b:         b,
		req:       req,
		span:      span,
	}
	e.publish(EventRunStart, r.id, sessionID, req.Model.Ref(), nil)

	return r
}

// ID returns the run identifier used on engine events.
func (r *Run) ID() string { return r.id }

// Request returns the frozen request every attempt sends.
func (r *Run) Request() *modeladapter.Request { return r.req }

// Attempts returns how many times the request has been sent so far.
func (r *Run) Attempts() int { return r.attempt }

// Recv returns the next event. After the finish event it returns io.EOF;
// after Close it returns modeladapter.ErrStreamClosed.
func (r *Run) Recv() (event.Event, error) {
	for {
		if r.closed {
			return event.Event{}, modeladapter.ErrStreamClosed
		}
		if len(r.pending) > 0 {
			ev := r.pending[0]
			r.pending = r.pending[1:]
			return r.deliver(ev), nil
		}
		if r.finished {
			r.end()
			return event.Event{}, io.EOF
		}
		if r.stream == nil {
			r.open()
			continue
		}
		r.next()
	}
}

// deliver applies bookkeeping to an event on its way out.
func (r *Run) deliver(ev event.Event) event.Event {
	switch ev.Type {
	case event.StreamStart:
		r.started = true
	case event.Finish:
		r.finished = true
		r.summary.Reason = ev.Reason
		r.summary.Usage = ev.Usage
		r.summary.Attempts = r.attempt
		if ur, ok := r.b.adapter.(modeladapter.UsageReporter); ok && ev.Usage != (event.Usage{}) {
			ur.UsageTracker().Add(r.req.Model.ID, ev.Usage)
		}
	case event.Error:
		r.summary.Err = ev.Err
	}
	return ev
}

// open starts the next attempt: it finishes any pending backoff wait, waits
// for the throttle and calls the adapter.
func (r *Run) open() {
	log := r.eng.logger

	if rc := r.wait; rc != nil {
		r.wait = nil
		if err := r.eng.sleep(r.ctx, rc.Wait); err != nil {
			r.abort()
			return
		}
	}

	if err := r.b.throttle.Wait(r.ctx); err != nil {
		if r.ctx.Err() != nil {
			r.abort()
			return
		}
		r.terminal(err)
		return
	}

	r.attempt++
	log.Debug("model request", "run", r.id, "model", r.req.Model.Ref(), "attempt", r.attempt)

	s, err := r.b.adapter.Stream(r.ctx, r.req)
	if err != nil {
		if r.ctx.Err() != nil {
			r.abort()
			return
		}
		if r.retry(err) {
			return
		}
		if !r.started {
			r.pending = append(r.pending, event.Event{Type: event.StreamStart, Warnings: r.req.Warnings})
		}
		r.terminal(err)
		return
	}

	r.stream = s
}

// next pulls one event from the current attempt. An error event is held
// together with the finish that follows it until the retry decision is made.
func (r *Run) next() {
	ev, err := r.stream.Recv()
	if err != nil {
		// A stream that ends without a finish event is treated as a
		// failed attempt.
		r.closeStream()
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		if r.ctx.Err() != nil {
			r.abort()
			return
		}
		if !r.retry(err) {
			r.terminal(err)
		}
		return
	}

	// Every attempt's stream-start is forwarded: the caller treats a second
	// one as the start of a new step. Response metadata is kept once per run.
	if ev.Type == event.ResponseMetadata {
		if r.metaSeen {
			return
		}
		r.metaSeen = true
	}
	if ev.Type != event.Error {
		r.pending = append(r.pending, ev)
		if ev.Type == event.Finish {
			r.closeStream()
			if ev.Reason == event.FinishAborted {
				r.eng.logger.Info("model request aborted", "run", r.id, "model", r.req.Model.Ref(), "attempt", r.attempt)
			}
		}
		return
	}

	tail := []event.Event{ev}
	if fin, ferr := r.stream.Recv(); ferr == nil {
		tail = append(tail, fin)
	}
	r.closeStream()

	if r.ctx.Err() == nil && r.retry(ev.Err) {
		return
	}
	if len(tail) == 1 {
		tail = append(tail, event.Event{Type: event.Finish, Reason: event.FinishError})
	}
	r.logFailure(ev.Err)
	r.pending = append(r.pending, tail...)
}

// retry schedules another attempt when err is retryable, attempts remain
// and the run has not been cancelled. It queues the retry event; the wait
// itself happens at the start of the next attempt.
func (r *Run) retry(err error) bool {
	if r.ctx.Err() != nil || r.attempt >= r.eng.cfg.Retry.Attempts() {
		return false
	}

	rc, ok := modeladapter.Classify(r.attempt, err, r.eng.now())
	if !ok {
		return false
	}

	r.eng.logger.Warn("retrying model request",
		"run", r.id,
		"model", r.req.Model.Ref(),
		"attempt", rc.Attempt,
		"delay", rc.Wait,
		"reason", rc.Reason,
		"err", err,
	)
	r.span.AddEvent("model.retry", trace.WithAttributes(
		attribute.Int("attempt", rc.Attempt),
		attribute.Int64("wait_ms", rc.Wait.Milliseconds()),
		attribute.String("reason", rc.Reason),
	))
	r.eng.publish(EventRetry, r.id, r.sessionID, r.req.Model.Ref(), RetryInfo{
		Attempt: rc.Attempt,
		Wait:    rc.Wait,
		Reason:  rc.Reason,
	})

	r.wait = &rc
	r.pending = append(r.pending, event.Event{
		Type:     event.Retry,
		Attempt:  rc.Attempt,
		Wait:     rc.Wait,
		Err:      err,
		Metadata: event.Metadata{event.MetaRetryReason: rc.Reason},
	})

	return true
}

// terminal queues the error and error finish that end the run.
func (r *Run) terminal(err error) {
	r.logFailure(err)
	r.pending = append(r.pending,
		event.Event{Type: event.Error, Err: err},
		event.Event{Type: event.Finish, Reason: event.FinishError},
	)
}

// abort queues an aborted finish, opening the stream first if nothing has
// been delivered yet.
func (r *Run) abort() {
	r.closeStream()
	r.eng.logger.Info("model request aborted", "run", r.id, "model", r.req.Model.Ref(), "attempt", r.attempt)
	if !r.started {
		r.pending = append(r.pending, event.Event{Type: event.StreamStart, Warnings: r.req.Warnings})
	}
	r.pending = append(r.pending, event.Event{Type: event.Finish, Reason: event.FinishAborted})
}

func (r *Run) logFailure(err error) {
	r.eng.logger.Error("model request failed",
		"run", r.id,
		"model", r.req.Model.Ref(),
		"attempt", r.attempt,
		"err", err,
	)
}

func (r *Run) closeStream() {
	if r.stream != nil {
		_ = r.stream.Close()
		r.stream = nil
	}
}

// end closes the span and publishes the run summary once.
func (r *Run) end() {
	if r.ended {
		return
	}
	r.ended = true
	r.closeStream()

	u := r.summary.Usage
	if u != (event.Usage{}) {
		r.span.AddEvent("model.usage", trace.WithAttributes(
			attribute.Int("input_tokens", u.Input),
			attribute.Int("output_tokens", u.Output),
			attribute.Int("reasoning_tokens", u.Reasoning),
			attribute.Int("cache_read_tokens", u.CacheRead),
			attribute.Int("cache_write_tokens", u.CacheWrite),
		))
	}
	r.span.SetAttributes(
		attribute.Int("switchboard.attempts", r.attempt),
		attribute.String("switchboard.finish_reason", string(r.summary.Reason)),
	)

	switch r.summary.Reason {
	case event.FinishError:
		if r.summary.Err != nil {
			r.span.RecordError(r.summary.Err)
		}
		r.span.SetStatus(codes.Error, "model stream failed")
	case event.FinishAborted:
		r.span.SetStatus(codes.Error, "model stream aborted")
	case "":
		r.span.SetStatus(codes.Unset, "closed")
	default:
		r.span.SetStatus(codes.Ok, "ok")
	}
	r.span.End()

	r.eng.publish(EventRunEnd, r.id, r.sessionID, r.req.Model.Ref(), r.summary)
}

// Close stops the run, releasing the in-flight connection. It is safe to
// call more than once.
func (r *Run) Close() error {
	if r.closed {
		return nil
	}
	r.end()
	r.closed = true
	return nil
}
