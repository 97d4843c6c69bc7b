package dispatcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cutpoint/chunkcast/cmd/chunkcast/extractor"
	"github.com/cutpoint/chunkcast/cmd/chunkcast/transcript"
	"github.com/stretchr/testify/require"
)

type fakeExtractor struct{}

func (fakeExtractor) Extract(chunk transcript.Chunk) (extractor.Payload, error) {
	return extractor.Payload{Bytes: []byte("wav"), MimeType: "audio/wav"}, nil
}

type scriptedResponse struct {
	resp SubmitResponse
	err  error
}

// scriptedClient replays a fixed sequence of responses per call index
// across the whole run (not per chunk), letting tests drive exact
// attempt-by-attempt behavior.
type scriptedClient struct {
	mu     sync.Mutex
	calls  int
	script []scriptedResponse
}

func (c *scriptedClient) Submit(ctx context.Context, req SubmitRequest) (SubmitResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.calls
	c.calls++
	if i >= len(c.script) {
		return SubmitResponse{}, &TransportError{Message: "no more scripted responses"}
	}
	return c.script[i].resp, c.script[i].err
}

type recordingHooks struct {
	mu        sync.Mutex
	starts    []int
	completes []int
	errors    []int
	retries   []retryEvent
}

type retryEvent struct {
	index, attempt, maxAttempts, delayMs int
	kind                                 transcript.ErrorKind
}

func (h *recordingHooks) OnChunkStart(chunk transcript.Chunk, index int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.starts = append(h.starts, index)
}

func (h *recordingHooks) OnChunkComplete(chunk transcript.Chunk, index int, result transcript.TranscriptionResult) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.completes = append(h.completes, index)
}

func (h *recordingHooks) OnChunkError(chunk transcript.Chunk, index int, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errors = append(h.errors, index)
}

func (h *recordingHooks) OnRetry(chunk transcript.Chunk, index int, attempt, maxAttempts, delayMs int, kind transcript.ErrorKind) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.retries = append(h.retries, retryEvent{index, attempt, maxAttempts, delayMs, kind})
}

func fiveChunkPlan() []transcript.Chunk {
	chunks := make([]transcript.Chunk, 5)
	for i := range chunks {
		chunks[i] = transcript.Chunk{Index: i, ActualStart: float64(i) * 10, ActualEnd: float64(i)*10 + 10}
	}
	return chunks
}

func TestTranscribeAll_RetryThenSucceed(t *testing.T) {
	client := &scriptedClient{script: []scriptedResponse{
		{err: &TransportError{StatusCode: 503, Message: "overloaded"}},
		{err: &TransportError{StatusCode: 503, Message: "overloaded"}},
		{resp: SubmitResponse{Text: "hello world"}},
	}}
	hooks := &recordingHooks{}
	policy := transcript.RetryPolicy{MaxAttempts: 5, InitialDelayMs: 100, Multiplier: 2, MaxDelayMs: 60000}
	d := New(fakeExtractor{}, client, hooks, Options{Policy: policy})

	results, err := d.TranscribeAll(context.Background(), []transcript.Chunk{{Index: 0, ActualStart: 0, ActualEnd: 10}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.True(t, results[0].Success)
	require.Equal(t, "hello world", results[0].Text)

	require.Len(t, hooks.retries, 2)
	require.Equal(t, 100, hooks.retries[0].delayMs)
	require.Equal(t, 200, hooks.retries[1].delayMs)
	require.Equal(t, transcript.ErrorKindServerError, hooks.retries[0].kind)
	require.Len(t, hooks.completes, 1)
	require.Empty(t, hooks.errors)
}

func TestTranscribeAll_AuthErrorAbortsRemainingChunks(t *testing.T) {
	client := &scriptedClient{script: []scriptedResponse{
		{resp: SubmitResponse{Text: "chunk zero"}},
		{resp: SubmitResponse{Text: "chunk one"}},
		{err: &TransportError{StatusCode: 401, Message: "invalid api key"}},
	}}
	hooks := &recordingHooks{}
	policy := transcript.RetryPolicy{MaxAttempts: 5, InitialDelayMs: 10, Multiplier: 2, MaxDelayMs: 1000}
	d := New(fakeExtractor{}, client, hooks, Options{Policy: policy})

	results, err := d.TranscribeAll(context.Background(), fiveChunkPlan())
	require.NoError(t, err)
	require.Len(t, results, 3)

	require.True(t, results[0].Success)
	require.True(t, results[1].Success)
	require.False(t, results[2].Success)
	require.Equal(t, transcript.ErrorKindAuth, results[2].ErrorKind)

	require.Equal(t, []int{0, 1, 2}, hooks.starts)
	require.Empty(t, hooks.retries)
}

func TestTranscribeAll_RetriesExhaustedYieldsFailedResult(t *testing.T) {
	client := &scriptedClient{script: []scriptedResponse{
		{err: &TransportError{StatusCode: 503, Message: "down"}},
		{err: &TransportError{StatusCode: 503, Message: "down"}},
		{err: &TransportError{StatusCode: 503, Message: "down"}},
	}}
	hooks := &recordingHooks{}
	policy := transcript.RetryPolicy{MaxAttempts: 2, InitialDelayMs: 1, Multiplier: 1, MaxDelayMs: 10}
	d := New(fakeExtractor{}, client, hooks, Options{Policy: policy})

	results, err := d.TranscribeAll(context.Background(), []transcript.Chunk{{Index: 0, ActualStart: 0, ActualEnd: 10}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.False(t, results[0].Success)
	require.Equal(t, transcript.ErrorKindServerError, results[0].ErrorKind)
	require.False(t, results[0].ErrorKind == transcript.ErrorKindAuth)
}

func TestTranscribeAll_InvalidAudioIsNotRetried(t *testing.T) {
	client := &scriptedClient{script: []scriptedResponse{
		{err: &TransportError{StatusCode: 400, Message: "unsupported audio file format"}},
	}}
	hooks := &recordingHooks{}
	policy := transcript.RetryPolicy{MaxAttempts: 5, InitialDelayMs: 10, Multiplier: 2, MaxDelayMs: 1000}
	d := New(fakeExtractor{}, client, hooks, Options{Policy: policy})

	results, err := d.TranscribeAll(context.Background(), []transcript.Chunk{{Index: 0, ActualStart: 0, ActualEnd: 10}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.False(t, results[0].Success)
	require.Equal(t, transcript.ErrorKindInvalidAudio, results[0].ErrorKind)
	require.Empty(t, hooks.retries)
}

type decodeErrExtractor struct{}

func (decodeErrExtractor) Extract(chunk transcript.Chunk) (extractor.Payload, error) {
	return extractor.Payload{}, &extractor.ErrPayloadTooLarge{Size: 10, Ceiling: 1}
}

func TestTranscribeAll_ExtractionFailureIsNotRetried(t *testing.T) {
	client := &scriptedClient{script: []scriptedResponse{{resp: SubmitResponse{Text: "should not be reached"}}}}
	hooks := &recordingHooks{}
	d := New(decodeErrExtractor{}, client, hooks, Options{Policy: transcript.DefaultRetryPolicy()})

	results, err := d.TranscribeAll(context.Background(), []transcript.Chunk{{Index: 0, ActualStart: 0, ActualEnd: 10}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.False(t, results[0].Success)
	require.Equal(t, transcript.ErrorKindDecode, results[0].ErrorKind)
	require.Equal(t, 0, client.calls)
}

func TestTranscribeAll_CancellationStopsBeforeNextChunk(t *testing.T) {
	client := &scriptedClient{script: []scriptedResponse{
		{resp: SubmitResponse{Text: "first"}},
	}}
	hooks := &recordingHooks{}
	d := New(fakeExtractor{}, client, hooks, Options{Policy: transcript.DefaultRetryPolicy(), InterChunkDelay: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		results, err := d.TranscribeAll(ctx, fiveChunkPlan())
		require.Error(t, err)
		require.Len(t, results, 1)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("TranscribeAll did not observe cancellation")
	}
}

func TestClassify_Deterministic(t *testing.T) {
	cases := []struct {
		err  *TransportError
		kind transcript.ErrorKind
	}{
		{&TransportError{StatusCode: 429}, transcript.ErrorKindRateLimit},
		{&TransportError{StatusCode: 500}, transcript.ErrorKindServerError},
		{&TransportError{StatusCode: 503}, transcript.ErrorKindServerError},
		{&TransportError{StatusCode: 401}, transcript.ErrorKindAuth},
		{&TransportError{StatusCode: 403}, transcript.ErrorKindAuth},
		{&TransportError{StatusCode: 400, Message: "bad audio format"}, transcript.ErrorKindInvalidAudio},
		{&TransportError{StatusCode: 400, Message: "missing field"}, transcript.ErrorKindUnknown},
		{&TransportError{StatusCode: 0, Timeout: true}, transcript.ErrorKindTimeout},
		{&TransportError{StatusCode: 0, Timeout: false}, transcript.ErrorKindNetwork},
	}
	for _, tc := range cases {
		require.Equal(t, tc.kind, classify(tc.err))
		require.Equal(t, tc.kind, classify(tc.err), "classify must be pure")
	}
}

func TestCapBackoff_CapsAtMaxDelay(t *testing.T) {
	policy := transcript.RetryPolicy{MaxAttempts: 4, InitialDelayMs: 1000, Multiplier: 10, MaxDelayMs: 5000}
	b := &capBackoff{policy: policy}

	d0, stop0 := b.Next()
	require.False(t, stop0)
	require.Equal(t, 1000*time.Millisecond, d0)

	d1, stop1 := b.Next()
	require.False(t, stop1)
	require.Equal(t, 5000*time.Millisecond, d1)

	_, _ = b.Next()
	_, stop3 := b.Next()
	require.True(t, stop3)
}
