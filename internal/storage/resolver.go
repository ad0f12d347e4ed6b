// Package storage turns attachment refs into URLs the gateway can fetch.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var ErrUnresolvable = errors.New("attachment ref cannot be resolved to a public URL")

// Presigner issues time-limited GET URLs for objects in a bucket.
type Presigner interface {
	PresignGet(ctx context.Context, bucket, key string) (string, error)
}

// Resolver maps an attachment ref to a fetchable URL:
//   - http(s) URLs are returned unchanged
//   - s3://bucket/key refs are presigned when a Presigner is configured;
//     s3:///key uses the default bucket
//   - anything else is a site-relative path joined onto the public base URL
type Resolver struct {
	baseURL       *url.URL
	presigner     Presigner
	defaultBucket string
}

type Option func(*Resolver)

// WithPresigner enables s3:// refs. bucket is used for refs that omit one.
func WithPresigner(p Presigner, bucket string) Option {
	return func(r *Resolver) {
		r.presigner = p
		r.defaultBucket = bucket
	}
}

func NewResolver(publicBaseURL string, opts ...Option) (*Resolver, error) {
	r := &Resolver{}
	if publicBaseURL != "" {
		u, err := url.Parse(publicBaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid public base url: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return nil, fmt.Errorf("public base url must be http(s), got %q", publicBaseURL)
		}
		r.baseURL = u
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func (r *Resolver) Resolve(ctx context.Context, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", ErrUnresolvable
	}

	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnresolvable, err)
	}

	switch u.Scheme {
	case "http", "https":
		return ref, nil
	case "s3":
		if r.presigner == nil {
			return "", fmt.Errorf("%w: object storage is not configured for %q", ErrUnresolvable, ref)
		}
		bucket, key := u.Host, strings.TrimPrefix(u.Path, "/")
		if bucket == "" {
			bucket = r.defaultBucket
		}
		if bucket == "" || key == "" {
			return "", fmt.Errorf("%w: malformed object ref %q", ErrUnresolvable, ref)
		}
		return r.presigner.PresignGet(ctx, bucket, key)
	case "":
		if r.baseURL == nil {
			return "", fmt.Errorf("%w: no public base url for relative ref %q", ErrUnresolvable, ref)
		}
		rel := &url.URL{Path: "/" + strings.TrimPrefix(u.Path, "/"), RawQuery: u.RawQuery}
		return r.baseURL.ResolveReference(rel).String(), nil
	default:
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrUnresolvable, u.Scheme)
	}
}
