package riot

import (
	"errors"
	"fmt"
)

// ErrInvalidResponse marks a response that came back 200 but could not be
// decoded into the expected shape. Never retried.
var ErrInvalidResponse = errors.New("invalid response shape")

type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindNotFound
	KindUnauthorized
	KindForbidden
	KindRateLimited
	KindServerError
	KindClientError
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindRateLimited:
		return "rate_limited"
	case KindServerError:
		return "server_error"
	case KindClientError:
		return "client_error"
	default:
		return "unknown"
	}
}

// APIError carries the classification callers branch on, plus the HTTP
// status, the request URL and the underlying cause for logging.
type APIError struct {
	Kind   ErrorKind
	Status int
	URL    string
	Err    error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("riot api %s (status %d) %s: %v", e.Kind, e.Status, e.URL, e.Err)
	}
	return fmt.Sprintf("riot api %s (status %d) %s", e.Kind, e.Status, e.URL)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

func classifyStatus(status int) ErrorKind {
	switch {
	case status == 404:
		return KindNotFound
	case status == 401:
		return KindUnauthorized
	case status == 403:
		return KindForbidden
	case status == 429:
		return KindRateLimited
	case status >= 500:
		return KindServerError
	case status >= 400:
		return KindClientError
	default:
		return KindUnknown
	}
}

// Classify extracts the kind from any error in the chain, KindUnknown when
// the error did not originate from the API client.
func Classify(err error) ErrorKind {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindUnknown
}

func IsNotFound(err error) bool {
	return Classify(err) == KindNotFound
}

func IsUnauthorized(err error) bool {
	return Classify(err) == KindUnauthorized
}

func IsRateLimited(err error) bool {
	return Classify(err) == KindRateLimited
}

func retryable(kind ErrorKind) bool {
	switch kind {
	case KindRateLimited, KindServerError, KindUnknown:
		return true
	default:
		return false
	}
}
