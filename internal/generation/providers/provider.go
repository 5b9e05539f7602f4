package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/pixelmint-ai/pixelmint-backend/pkg/enums"
)

// RequestSpec is the provider-neutral description of one generation request.
type RequestSpec struct {
	Prompt    string
	Width     int
	Height    int
	NumImages int
}

// SubmitResult is what a submit call produced. Synchronous adapters fill
// ResultRefs and leave ExternalTaskID empty; asynchronous adapters do the
// opposite.
type SubmitResult struct {
	ExternalTaskID string
	ResultRefs     []string
}

// Terminal reports whether the submit already carries the final artifacts.
func (r SubmitResult) Terminal() bool {
	return len(r.ResultRefs) > 0
}

// PollResult is one observation of an asynchronous task.
type PollResult struct {
	Status     enums.TaskStatus
	ResultRefs []string
	Reason     string
}

// Adapter is one image-generation backend. Submit and Poll are individually
// time-bounded by the caller's context; adapters never sleep unbounded.
type Adapter interface {
	Name() enums.Provider
	Submit(ctx context.Context, spec RequestSpec) (*SubmitResult, error)
	Poll(ctx context.Context, externalTaskID string) (*PollResult, error)
}

// PermanentError marks a failure that retrying can never fix: invalid
// request, content-policy rejection, bad credentials. Anything unwrapped is
// treated as retryable.
type PermanentError struct {
	Cause error
}

func (e *PermanentError) Error() string {
	if e.Cause == nil {
		return "permanent provider error"
	}
	return fmt.Sprintf("permanent provider error: %v", e.Cause)
}

func (e *PermanentError) Unwrap() error { return e.Cause }

// Permanent wraps err as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Cause: err}
}

// IsPermanent reports whether err (anywhere in its chain) is permanent.
func IsPermanent(err error) bool {
	var perm *PermanentError
	return errors.As(err, &perm)
}

// permanentStatus classifies HTTP responses the way every adapter here
// agrees on: 4xx is the caller's fault except 408 and 429.
func permanentStatus(code int) bool {
	if code == http.StatusRequestTimeout || code == http.StatusTooManyRequests {
		return false
	}
	return code >= 400 && code < 500
}

// RetryPolicy bounds an adapter's transient retries on submit.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = 500 * time.Millisecond
	}
	return p
}

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}
