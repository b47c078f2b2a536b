package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	gateway "github.com/smartai/router/internal"
	"github.com/smartai/router/internal/upstream"
)

// Stream routes and executes a streaming chat request. Failover happens only
// while opening the stream; once the upstream answers, the channel is
// committed. The returned channel carries content events, then a routing
// summary event, then Done.
func (d *Dispatcher) Stream(ctx context.Context, req *gateway.ChatRequest) (<-chan gateway.StreamEvent, *Summary, error) {
	start := time.Now()

	sel, rreq, err := d.route(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	sum := &Summary{
		RequestID:      gateway.RequestIDFromContext(ctx),
		RequestedModel: req.Model,
		Strategy:       rreq.Strategy,
		EstimatedCost:  d.estimateCost(req, sel),
	}

	targets := d.resolveTargets(sel)
	if len(targets) == 0 {
		return nil, sum, gateway.ErrNoChannels
	}
	d.preflight(ctx, targets)

	var lastTried *target
	for i, t := range targets {
		last := i == len(targets)-1

		if !d.probeAllows(t, last) {
			sum.Attempts = append(sum.Attempts, Attempt{
				ChannelID:   t.channel.ID,
				ChannelName: t.channel.Name,
				Model:       t.score.MatchedModel,
				ErrorType:   gateway.ErrTypeConnection,
				Error:       "origin unreachable, skipped",
			})
			continue
		}
		ready, err := d.pace(ctx, t, last)
		if err != nil {
			return nil, sum, err
		}
		if !ready {
			sum.Attempts = append(sum.Attempts, Attempt{
				ChannelID:   t.channel.ID,
				ChannelName: t.channel.Name,
				Model:       t.score.MatchedModel,
				Error:       "minimum request interval not elapsed, skipped",
			})
			continue
		}

		body, err := buildBody(req, t.score.MatchedModel, true)
		if err != nil {
			return nil, sum, fmt.Errorf("%w: %v", gateway.ErrBadRequest, err)
		}

		lastTried = t
		resp, openLatency, err := d.attemptOnce(ctx, t, body)
		if err != nil {
			if clientCanceled(ctx, err) {
				d.recordCancelled(ctx, t, sum, start)
				return nil, sum, err
			}
			cls := d.handleFailure(ctx, t, err, openLatency)
			sum.Attempts = append(sum.Attempts, Attempt{
				ChannelID:   t.channel.ID,
				ChannelName: t.channel.Name,
				Model:       t.score.MatchedModel,
				ErrorType:   cls.Type,
				Error:       err.Error(),
				DurationMs:  openLatency.Milliseconds(),
			})
			continue
		}

		// Stream open: commit to this channel.
		d.handleSuccess(t, openLatency)
		if i > 0 && d.metrics != nil {
			d.metrics.FailoversTotal.WithLabelValues(sum.RequestedModel).Inc()
		}
		sum.ChannelID = t.channel.ID
		sum.ChannelName = t.channel.Name
		sum.Provider = t.channel.Provider
		sum.Model = t.score.MatchedModel

		events := make(chan gateway.StreamEvent, 8)
		go upstream.ReadStream(ctx, t.channel.ID, resp, events)

		out := make(chan gateway.StreamEvent, 8)
		go d.relayStream(ctx, t, sum, events, out, start)
		return out, sum, nil
	}

	if lastTried != nil {
		sum.ChannelID = lastTried.channel.ID
		sum.ChannelName = lastTried.channel.Name
		sum.Provider = lastTried.channel.Provider
		sum.Model = lastTried.score.MatchedModel
		sum.ResponseTimeMs = time.Since(start).Milliseconds()
		sum.Status = "error"
		d.record(ctx, lastTried, sum, "error")
	}
	return nil, sum, gateway.ErrAllChannelsFailed
}

// relayStream forwards upstream events to the client channel while measuring
// time to first byte and throughput, then appends the summary event before
// the Done sentinel. On a mid-stream failure the error event precedes the
// summary. A caller that stops reading is treated as a cancellation, not an
// upstream fault.
func (d *Dispatcher) relayStream(ctx context.Context, t *target, sum *Summary,
	in <-chan gateway.StreamEvent, out chan<- gateway.StreamEvent, start time.Time) {

	defer close(out)

	var (
		firstByte time.Time
		usage     *gateway.Usage
		chunks    int
	)

	finalize := func(status string) {
		sum.ResponseTimeMs = time.Since(start).Milliseconds()
		sum.Status = status
		if !firstByte.IsZero() {
			sum.TTFBMs = firstByte.Sub(start).Milliseconds()
			sum.Usage = usage
			if usage != nil {
				if streamed := time.Since(firstByte).Seconds(); streamed > 0 {
					sum.TokensPerSecond = float64(usage.CompletionTokens) / streamed
				}
			}
		}
		d.record(ctx, t, sum, status)
	}

	send := func(ev gateway.StreamEvent) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	emitSummary := func() bool {
		data, err := summaryEvent(sum)
		if err != nil {
			d.logger.LogAttrs(ctx, slog.LevelError, "summary event marshal failed",
				slog.String("error", err.Error()))
			return true
		}
		return send(gateway.StreamEvent{Data: data})
	}

	for ev := range in {
		switch {
		case ev.Err != nil:
			if clientCanceled(ctx, ev.Err) {
				finalize("cancelled")
				return
			}
			d.handleFailure(ctx, t, ev.Err, time.Since(start))
			finalize("error")
			if send(gateway.StreamEvent{Err: ev.Err}) {
				emitSummary()
			}
			return

		case ev.Done:
			finalize("success")
			if emitSummary() {
				send(gateway.StreamEvent{Done: true})
			}
			return

		default:
			if firstByte.IsZero() {
				firstByte = time.Now()
			}
			chunks++
			if ev.Usage != nil {
				usage = ev.Usage
			}
			if !send(ev) {
				finalize("cancelled")
				return
			}
		}
	}

	// Upstream closed without [DONE]. A cancelled caller ends the stream
	// here too; otherwise treat a stream that produced content as complete
	// and an empty one as a failure.
	if clientCanceled(ctx, nil) {
		finalize("cancelled")
		return
	}
	if chunks > 0 {
		finalize("success")
		if emitSummary() {
			send(gateway.StreamEvent{Done: true})
		}
		return
	}
	err := fmt.Errorf("channel %s: stream closed before any content", t.channel.ID)
	d.handleFailure(ctx, t, err, time.Since(start))
	finalize("error")
	if send(gateway.StreamEvent{Err: err}) {
		emitSummary()
	}
}
