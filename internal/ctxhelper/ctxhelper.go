// Package ctxhelper provides helper functions for working with the context
package ctxhelper

import (
	"github.com/sirupsen/logrus"
	"golang.org/x/net/context"
)

var (
	// KeyIdentity is the context key for storing the caller identity resolved by the upstream auth proxy
	KeyIdentity = ctxKey("identity")
	// KeyLogger is the context key for storing the logger in the context
	KeyLogger = ctxKey("logger")
)

// internal context key
type ctxKey string

// Identity holds the already-resolved IDs of the caller. Either one may be empty.
type Identity struct {
	RequesterID string
	PerformerID string
}

// WithIdentity returns a copy of the context carrying the given identity
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, KeyIdentity, id)
}

// Caller returns the identity from the current context, if available
func Caller(ctx context.Context) *Identity {
	if id, ok := ctx.Value(KeyIdentity).(Identity); ok {
		return &id
	}
	return nil
}

// Logger returns the logger from the current context. If no logger is available, it panics
func Logger(ctx context.Context) *logrus.Entry {
	logger, ok := ctx.Value(KeyLogger).(*logrus.Entry)
	if ok {
		return logger
	}
	panic("No logger in context")
}
