package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/cutpoint/chunkcast/cmd/chunkcast/extractor"
	"github.com/go-resty/resty/v2"
)

// SubmitRequest is the single chunk upload the Dispatcher sends per
// attempt. The bytes must not change between attempts.
type SubmitRequest struct {
	Payload  extractor.Payload
	Model    string
	Language string
}

// SubmitResponse is the subset of the transcription service's
// verbose_json body the Dispatcher consumes.
type SubmitResponse struct {
	Text     string        `json:"text"`
	Duration float64       `json:"duration"`
	Language string        `json:"language"`
	Words    []ServiceWord `json:"words"`
}

// ServiceWord is a single word-level timing entry as the service reports it.
type ServiceWord struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// serviceErrorBody is the JSON error envelope a transcription service
// returns on failure, with error.message preferred for display when
// present.
type serviceErrorBody struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// RemoteClient is the Dispatcher's boundary to the transcription
// service, kept as an interface so tests can substitute a fake without
// touching a network.
type RemoteClient interface {
	// Submit performs exactly one attempt. It returns the decoded
	// response, or a *TransportError carrying the HTTP status code (if
	// any) and the raw message, for the classifier to interpret.
	Submit(ctx context.Context, req SubmitRequest) (SubmitResponse, error)
}

// TransportError carries everything classify needs: whether a status
// code was received, and the best available message.
type TransportError struct {
	StatusCode int // 0 when no response was received (network/timeout).
	Message    string
	Timeout    bool
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("transcription request failed with status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("transcription request failed: %s", e.Message)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RestyClient is the production RemoteClient, built on go-resty/resty/v2
// with a base URL, bearer auth header, and explicit per-request timeout.
// It disables resty's own retry machinery: the Dispatcher drives retries
// itself so that the observable lifecycle hooks and backoff formula stay
// exact.
type RestyClient struct {
	client *resty.Client
}

// NewRestyClient builds a RestyClient against baseURL, authenticating
// with apiKey and bounding every request to perRequestTimeout.
func NewRestyClient(baseURL, apiKey string, perRequestTimeout time.Duration) *RestyClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Authorization", "Bearer "+apiKey).
		SetTimeout(perRequestTimeout).
		SetRetryCount(0)

	return &RestyClient{client: client}
}

func (c *RestyClient) Submit(ctx context.Context, req SubmitRequest) (SubmitResponse, error) {
	var out SubmitResponse
	var errBody serviceErrorBody

	r := c.client.R().
		SetContext(ctx).
		SetMultipartField("file", "chunk.wav", req.Payload.MimeType, bytesReader(req.Payload.Bytes)).
		SetFormData(map[string]string{
			"model":                     req.Model,
			"response_format":           "verbose_json",
			"timestamp_granularities[]": "word",
		}).
		SetResult(&out).
		SetError(&errBody)

	if req.Language != "" {
		r.SetFormData(map[string]string{"language": req.Language})
	}

	resp, err := r.Post("/v1/audio/transcriptions")
	if err != nil {
		return SubmitResponse{}, &TransportError{
			Message: err.Error(),
			Timeout: isTimeoutErr(err),
			Err:     err,
		}
	}

	if resp.IsError() {
		msg := errBody.Error.Message
		if msg == "" {
			msg = string(resp.Body())
		}
		return SubmitResponse{}, &TransportError{
			StatusCode: resp.StatusCode(),
			Message:    msg,
		}
	}

	return out, nil
}
