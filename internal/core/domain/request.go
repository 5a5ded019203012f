package domain

import (
	"net/http"
	"sync/atomic"
)

var requestSeq atomic.Int64

// RequestContext pairs an outbound request with its remaining retry budget
// and the caller's correlation tag. Contexts are immutable; a retry produces
// a fresh context with a decremented budget and the same id and tag.
type RequestContext struct {
	Request     *http.Request
	Tag         any
	ID          int64
	RetriesLeft int
}

func NewRequestContext(req *http.Request, tag any, maxRetries int) *RequestContext {
	return &RequestContext{
		Request:     req,
		Tag:         tag,
		ID:          requestSeq.Add(1),
		RetriesLeft: maxRetries,
	}
}

func (rc *RequestContext) CanRetry() bool {
	return rc.RetriesLeft > 0
}

// Retry returns the context for the next attempt. Callers must check
// CanRetry first.
func (rc *RequestContext) Retry() *RequestContext {
	return &RequestContext{
		Request:     rc.Request,
		Tag:         rc.Tag,
		ID:          rc.ID,
		RetriesLeft: rc.RetriesLeft - 1,
	}
}

// ResponseContext is the pool's answer to exactly one RequestContext. Either
// Response or Err is set, never both. On success the response body is owned
// by the caller and must be drained or closed.
type ResponseContext struct {
	Request  *RequestContext
	Response *http.Response
	Err      error
}

func (rc *ResponseContext) Succeeded() bool {
	return rc.Err == nil
}
