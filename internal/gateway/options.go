package gateway

import (
	"net/url"
	"strconv"
)

// CallOptions is the resolved form of a call's options.
type CallOptions struct {
	SkipIntercept bool
	Anonymous     bool
	Query         url.Values
}

// Option adjusts a single call.
type Option func(*CallOptions)

// Resolve applies opts. Test doubles use it to inspect a call.
func Resolve(opts ...Option) CallOptions {
	var o CallOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// SkipAuthIntercept exempts the call from the 401 -> forced logout rule. The
// error is still returned.
func SkipAuthIntercept() Option {
	return func(o *CallOptions) { o.SkipIntercept = true }
}

// Anonymous sends the call without a bearer token.
func Anonymous() Option {
	return func(o *CallOptions) { o.Anonymous = true }
}

// Query adds a query parameter.
func Query(key, value string) Option {
	return func(o *CallOptions) {
		if o.Query == nil {
			o.Query = url.Values{}
		}
		o.Query.Add(key, value)
	}
}

// ProductQuery is the product_id parameter the feedback endpoints take.
func ProductQuery(productID int64) Option {
	return Query("product_id", strconv.FormatInt(productID, 10))
}
