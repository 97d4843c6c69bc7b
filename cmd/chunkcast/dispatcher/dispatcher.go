// Package dispatcher implements the Transcription Dispatcher: submits
// each chunk to the remote service sequentially, classifies failures,
// retries with exponential backoff, and streams lifecycle events back
// to the caller while honoring cooperative cancellation.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cutpoint/chunkcast/cmd/chunkcast/extractor"
	"github.com/cutpoint/chunkcast/cmd/chunkcast/transcript"
	"github.com/sethvargo/go-retry"
)

// Hooks receives lifecycle events at every state transition of the
// per-chunk state machine. Implementations must not block for long: the
// Dispatcher is strictly sequential and a slow hook delays every
// subsequent chunk.
type Hooks interface {
	OnChunkStart(chunk transcript.Chunk, index int)
	OnChunkComplete(chunk transcript.Chunk, index int, result transcript.TranscriptionResult)
	OnChunkError(chunk transcript.Chunk, index int, err error)
	OnRetry(chunk transcript.Chunk, index int, attempt, maxAttempts, delayMs int, kind transcript.ErrorKind)
}

// NoopHooks implements Hooks with no-ops, for callers that only want the
// returned results.
type NoopHooks struct{}

func (NoopHooks) OnChunkStart(transcript.Chunk, int)                                    {}
func (NoopHooks) OnChunkComplete(transcript.Chunk, int, transcript.TranscriptionResult) {}
func (NoopHooks) OnChunkError(transcript.Chunk, int, error)                             {}
func (NoopHooks) OnRetry(transcript.Chunk, int, int, int, int, transcript.ErrorKind)    {}

// Options bundles the per-run tunables the Dispatcher needs beyond the
// chunk list itself.
type Options struct {
	Model             string
	Language          string
	PerRequestTimeout time.Duration
	InterChunkDelay   time.Duration
	Policy            transcript.RetryPolicy
}

// Dispatcher drives chunks through Extractor and RemoteClient.
type Dispatcher struct {
	extractor extractor.Extractor
	client    RemoteClient
	hooks     Hooks
	opts      Options
}

// New builds a Dispatcher. hooks may be nil, in which case NoopHooks is used.
func New(ex extractor.Extractor, client RemoteClient, hooks Hooks, opts Options) *Dispatcher {
	if hooks == nil {
		hooks = NoopHooks{}
	}
	return &Dispatcher{extractor: ex, client: client, hooks: hooks, opts: opts}
}

// TranscribeAll runs every chunk in index order, sequentially. It
// returns the results accumulated before the first of: the natural end
// of the plan, an Auth failure (which aborts remaining chunks), or ctx
// cancellation. The returned error is non-nil only on cancellation; a
// plan that completes with some chunks Failed is not itself an error.
func (d *Dispatcher) TranscribeAll(ctx context.Context, chunks []transcript.Chunk) ([]transcript.TranscriptionResult, error) {
	results := make([]transcript.TranscriptionResult, 0, len(chunks))

	for i, chunk := range chunks {
		if ctx.Err() != nil {
			return results, ctx.Err()
		}

		d.hooks.OnChunkStart(chunk, i)

		result, cancelled, abort := d.dispatchChunk(ctx, chunk, i)
		if cancelled {
			return results, ctx.Err()
		}

		results = append(results, result)
		if abort {
			break
		}

		if i < len(chunks)-1 && d.opts.InterChunkDelay > 0 {
			if cancelled := sleepCancellable(ctx, d.opts.InterChunkDelay); cancelled {
				return results, ctx.Err()
			}
		}
	}

	return results, nil
}

// dispatchChunk runs the full Pending->...->terminal lifecycle for one
// chunk: extraction (once) then the submit/classify/backoff retry loop.
func (d *Dispatcher) dispatchChunk(ctx context.Context, chunk transcript.Chunk, index int) (result transcript.TranscriptionResult, cancelled, abort bool) {
	payload, err := d.extractor.Extract(chunk)
	if err != nil {
		result = transcript.TranscriptionResult{
			Chunk:     chunk,
			Success:   false,
			ErrorKind: transcript.ErrorKindDecode,
			Message:   err.Error(),
		}
		d.hooks.OnChunkError(chunk, index, err)
		return result, false, false
	}

	req := SubmitRequest{Payload: payload, Model: d.opts.Model, Language: d.opts.Language}

	var resp SubmitResponse
	var lastKind transcript.ErrorKind
	var lastMessage string
	attempt := 0
	backoff := &capBackoff{policy: d.opts.Policy}

	retryErr := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++

		if ctx.Err() != nil {
			return ctx.Err()
		}

		attemptCtx, cancel := context.WithTimeout(ctx, d.opts.PerRequestTimeout)
		defer cancel()

		r, submitErr := d.client.Submit(attemptCtx, req)
		if submitErr == nil {
			resp = r
			return nil
		}

		terr := toTransportError(submitErr, attemptCtx)
		kind := classify(terr)
		lastKind = kind
		lastMessage = terr.Message

		if !kind.Retryable() {
			return fmt.Errorf("non-retryable transcription error: %w", terr)
		}

		if attempt <= d.opts.Policy.MaxAttempts {
			delayMs := d.opts.Policy.DelayMs(attempt - 1)
			d.hooks.OnRetry(chunk, index, attempt, d.opts.Policy.MaxAttempts, delayMs, kind)
		}
		return retry.RetryableError(terr)
	})

	if retryErr == nil {
		result = transcript.TranscriptionResult{
			Chunk:            chunk,
			Success:          true,
			Text:             resp.Text,
			Words:            toWords(resp.Words),
			DetectedLanguage: resp.Language,
			ReportedDuration: resp.Duration,
		}
		d.hooks.OnChunkComplete(chunk, index, result)
		return result, false, false
	}

	if ctx.Err() != nil {
		return transcript.TranscriptionResult{}, true, false
	}

	result = transcript.TranscriptionResult{
		Chunk:     chunk,
		Success:   false,
		ErrorKind: lastKind,
		Message:   lastMessage,
	}
	d.hooks.OnChunkError(chunk, index, retryErr)

	abort = lastKind == transcript.ErrorKindAuth
	return result, false, abort
}

func toWords(in []ServiceWord) []transcript.Word {
	out := make([]transcript.Word, len(in))
	for i, w := range in {
		out[i] = transcript.Word{Text: w.Word, Start: w.Start, End: w.End}
	}
	return out
}

func toTransportError(err error, ctx context.Context) *TransportError {
	var terr *TransportError
	if errors.As(err, &terr) {
		if terr.StatusCode == 0 && !terr.Timeout && ctx.Err() != nil {
			terr.Timeout = errors.Is(ctx.Err(), context.DeadlineExceeded)
		}
		return terr
	}
	return &TransportError{Message: err.Error(), Timeout: isTimeoutErr(err), Err: err}
}

// capBackoff implements github.com/sethvargo/go-retry's Backoff
// interface, reproducing the exact initial_delay_ms*multiplier^k
// capped-at-max_delay_ms formula a RetryPolicy describes. The library's
// own NewExponential fixes the multiplier at 2, which is too narrow for
// a configurable one.
type capBackoff struct {
	policy transcript.RetryPolicy
	n      int
}

func (b *capBackoff) Next() (time.Duration, bool) {
	if b.n >= b.policy.MaxAttempts {
		return 0, true
	}
	d := time.Duration(b.policy.DelayMs(b.n)) * time.Millisecond
	b.n++
	return d, false
}

// sleepCancellable waits for d or ctx cancellation, whichever comes
// first, reporting whether the wait was cut short by cancellation. ctx
// cancellation wakes the wait immediately rather than on a fixed poll
// interval.
func sleepCancellable(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return false
	case <-ctx.Done():
		return true
	}
}
