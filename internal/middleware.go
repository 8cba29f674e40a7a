package internal

import (
	"github.com/go-kit/kit/endpoint"
	"golang.org/x/net/context"

	"github.com/derWhity/tipqueue/internal/ctxhelper"
)

// EnsureRequester is a middleware that checks if the call carries the ID of a fan
func EnsureRequester(next endpoint.Endpoint) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (response interface{}, err error) {
		if id := ctxhelper.Caller(ctx); id == nil || id.RequesterID == "" {
			return nil, ErrNotIdentified
		}
		return next(ctx, request)
	}
}

// EnsurePerformer is a middleware that checks if the call carries the ID of a performer
func EnsurePerformer(next endpoint.Endpoint) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (response interface{}, err error) {
		if id := ctxhelper.Caller(ctx); id == nil || id.PerformerID == "" {
			return nil, ErrNotIdentified
		}
		return next(ctx, request)
	}
}

// EnsureIdentified is a middleware that checks if the call carries any identity at all
func EnsureIdentified(next endpoint.Endpoint) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (response interface{}, err error) {
		if id := ctxhelper.Caller(ctx); id == nil || (id.RequesterID == "" && id.PerformerID == "") {
			return nil, ErrNotIdentified
		}
		return next(ctx, request)
	}
}

// Returns the performer ID of the caller or an empty string
func callerPerformer(ctx context.Context) string {
	if id := ctxhelper.Caller(ctx); id != nil {
		return id.PerformerID
	}
	return ""
}

// Returns the requester ID of the caller or an empty string
func callerRequester(ctx context.Context) string {
	if id := ctxhelper.Caller(ctx); id != nil {
		return id.RequesterID
	}
	return ""
}
