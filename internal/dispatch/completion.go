package dispatch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	gateway "github.com/smartai/router/internal"
	"github.com/smartai/router/internal/routing"
)

// maxResponseBody caps non-streaming upstream bodies to prevent a
// misconfigured upstream from causing unbounded allocation.
const maxResponseBody = 32 << 20

// Completion routes and executes a non-streaming chat request, failing over
// through the selection's backup channels. The returned body is the upstream
// response with the routing summary injected.
func (d *Dispatcher) Completion(ctx context.Context, req *gateway.ChatRequest) ([]byte, *Summary, error) {
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

		body, err := buildBody(req, t.score.MatchedModel, false)
		if err != nil {
			return nil, sum, fmt.Errorf("%w: %v", gateway.ErrBadRequest, err)
		}

		lastTried = t
		resp, elapsed, err := d.attemptOnce(ctx, t, body)
		if err != nil {
			if clientCanceled(ctx, err) {
				d.recordCancelled(ctx, t, sum, start)
				return nil, sum, err
			}
			cls := d.handleFailure(ctx, t, err, elapsed)
			sum.Attempts = append(sum.Attempts, Attempt{
				ChannelID:   t.channel.ID,
				ChannelName: t.channel.Name,
				Model:       t.score.MatchedModel,
				ErrorType:   cls.Type,
				Error:       err.Error(),
				DurationMs:  elapsed.Milliseconds(),
			})

			// A rate-limited last candidate with a short retry-after hint is
			// worth one in-line retry instead of a hard failure.
			if last {
				if wait := retryAfterWait(cls, err); wait > 0 && sleepCtx(ctx, wait) == nil {
					resp, elapsed, err = d.attemptOnce(ctx, t, body)
					if err != nil {
						if clientCanceled(ctx, err) {
							d.recordCancelled(ctx, t, sum, start)
							return nil, sum, err
						}
						cls = d.handleFailure(ctx, t, err, elapsed)
						sum.Attempts = append(sum.Attempts, Attempt{
							ChannelID:   t.channel.ID,
							ChannelName: t.channel.Name,
							Model:       t.score.MatchedModel,
							ErrorType:   cls.Type,
							Error:       err.Error(),
							DurationMs:  elapsed.Milliseconds(),
						})
						continue
					}
					// fall through to success handling
				} else {
					continue
				}
			} else {
				continue
			}
		}

		out, ok := d.finishCompletion(ctx, t, resp, sum, start, elapsed, i > 0)
		if !ok {
			continue
		}
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

// resolveTargets re-validates the selection's channels against live state.
func (d *Dispatcher) resolveTargets(sel *routing.Selection) []*target {
	scores := sel.Channels()
	targets := make([]*target, 0, len(scores))
	for _, s := range scores {
		if t := d.resolveTarget(s); t != nil {
			targets = append(targets, t)
		}
	}
	return targets
}

// attemptOnce paces the scheduler record and performs one upstream call.
func (d *Dispatcher) attemptOnce(ctx context.Context, t *target, body []byte) (*http.Response, time.Duration, error) {
	d.scheduler.RecordRequest(t.channel.ID)
	start := time.Now()
	resp, err := d.send(ctx, t, body)
	return resp, time.Since(start), err
}

// finishCompletion consumes a successful upstream response: parses the body,
// fills the summary, accounts usage, and injects the summary. Returns ok
// false when the body is unusable, in which case the caller fails over.
func (d *Dispatcher) finishCompletion(ctx context.Context, t *target, resp *http.Response,
	sum *Summary, start time.Time, elapsed time.Duration, failedOver bool) ([]byte, bool) {

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	resp.Body.Close()
	if err != nil {
		if clientCanceled(ctx, err) {
			d.recordCancelled(ctx, t, sum, start)
			return nil, true
		}
		cls := d.handleFailure(ctx, t, err, elapsed)
		sum.Attempts = append(sum.Attempts, Attempt{
			ChannelID:   t.channel.ID,
			ChannelName: t.channel.Name,
			Model:       t.score.MatchedModel,
			ErrorType:   cls.Type,
			Error:       err.Error(),
			DurationMs:  elapsed.Milliseconds(),
		})
		return nil, false
	}

	m, usage, err := parseUpstreamBody(raw)
	if err != nil {
		cls := d.handleFailure(ctx, t, err, elapsed)
		sum.Attempts = append(sum.Attempts, Attempt{
			ChannelID:   t.channel.ID,
			ChannelName: t.channel.Name,
			Model:       t.score.MatchedModel,
			ErrorType:   cls.Type,
			Error:       err.Error(),
			DurationMs:  elapsed.Milliseconds(),
		})
		return nil, false
	}

	d.handleSuccess(t, elapsed)
	if failedOver && d.metrics != nil {
		d.metrics.FailoversTotal.WithLabelValues(sum.RequestedModel).Inc()
	}

	sum.ChannelID = t.channel.ID
	sum.ChannelName = t.channel.Name
	sum.Provider = t.channel.Provider
	sum.Model = t.score.MatchedModel
	sum.ResponseTimeMs = time.Since(start).Milliseconds()
	sum.Status = "success"
	sum.Usage = usage

	d.record(ctx, t, sum, "success")

	out, err := marshalWithSummary(m, sum)
	if err != nil {
		// Summary marshalling failed; serve the upstream body untouched
		// rather than failing the request.
		return raw, true
	}
	return out, true
}

// sleepCtx sleeps for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
