// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package osal

import "github.com/joeycumines/logiface"

// waitSetOptions holds configuration options for wait-set creation.
type waitSetOptions struct {
	logger *logiface.Logger[logiface.Event]
}

// WaitSetOption configures a WaitSet instance.
type WaitSetOption interface {
	applyWaitSet(*waitSetOptions) error
}

// waitSetOptionImpl implements WaitSetOption.
type waitSetOptionImpl struct {
	applyWaitSetFunc func(*waitSetOptions) error
}

func (o *waitSetOptionImpl) applyWaitSet(opts *waitSetOptions) error {
	return o.applyWaitSetFunc(opts)
}

// WithWaitSetLogger overrides the package logger for one wait set. Useful to
// attach per-scheduler context fields to the wait loop's diagnostics.
func WithWaitSetLogger(logger *logiface.Logger[logiface.Event]) WaitSetOption {
	return &waitSetOptionImpl{func(opts *waitSetOptions) error {
		opts.logger = logger
		return nil
	}}
}

// resolveWaitSetOptions applies WaitSetOption instances to waitSetOptions.
func resolveWaitSetOptions(opts []WaitSetOption) (*waitSetOptions, error) {
	cfg := &waitSetOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue // Skip nil options gracefully
		}
		if err := opt.applyWaitSet(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
