// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package segtree

import (
	"log/slog"

	"github.com/google/uuid"
)

// Option configures a SegmentTree at construction time.
type Option func(*options)

type options struct {
	logger *slog.Logger
	id     string
}

// WithLogger routes the tree's log output through logger.
// A nil logger is ignored.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithID overrides the generated instance id used in logs, spans and CacheKey.
func WithID(id string) Option {
	return func(o *options) {
		if id != "" {
			o.id = id
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		logger: slog.Default(),
		id:     uuid.NewString()[:8],
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}
