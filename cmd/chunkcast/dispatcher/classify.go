package dispatcher

import (
	"strings"

	"github.com/cutpoint/chunkcast/cmd/chunkcast/transcript"
)

// classify is a pure function from (transport error, status code) to an
// ErrorKind. Identical inputs always yield identical output.
func classify(err *TransportError) transcript.ErrorKind {
	if err == nil {
		return transcript.ErrorKindUnknown
	}

	if err.StatusCode == 0 {
		if err.Timeout {
			return transcript.ErrorKindTimeout
		}
		return transcript.ErrorKindNetwork
	}

	switch err.StatusCode {
	case 429:
		return transcript.ErrorKindRateLimit
	case 500, 502, 503, 504:
		return transcript.ErrorKindServerError
	case 401, 403:
		return transcript.ErrorKindAuth
	}

	if err.StatusCode >= 400 && err.StatusCode < 500 {
		if err.StatusCode == 400 && mentionsAudioFormat(err.Message) {
			return transcript.ErrorKindInvalidAudio
		}
		return transcript.ErrorKindUnknown
	}

	return transcript.ErrorKindUnknown
}

func mentionsAudioFormat(message string) bool {
	lower := strings.ToLower(message)
	for _, kw := range []string{"audio", "file", "format"} {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
