// Copyright 2024 The TabletDB Authors
// SPDX-License-Identifier: Apache-2.0

package topology

import (
	"context"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// SharedSnapshot is the cluster's shared, copy-on-write placement
// snapshot. Readers load the current snapshot through an atomic
// pointer and never block. Writers are serialized through a weighted
// semaphore acquired with a context, so mutation waits asynchronously
// instead of spinning; each mutation clones the current snapshot,
// applies the change and publishes the clone in one pointer swap.
type SharedSnapshot struct {
	cur    atomic.Pointer[Snapshot]
	writer *semaphore.Weighted
	logger *zap.Logger
}

// NewShared returns a shared snapshot seeded with initial.
func NewShared(initial *Snapshot, logger *zap.Logger) *SharedSnapshot {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &SharedSnapshot{
		writer: semaphore.NewWeighted(1),
		logger: logger,
	}
	s.cur.Store(initial)
	return s
}

// Get returns the current snapshot. The result is immutable and stays
// consistent for as long as the caller holds it.
func (s *SharedSnapshot) Get() *Snapshot {
	return s.cur.Load()
}

// Mutate clones the current snapshot, applies fn to the clone and
// publishes it. Concurrent Mutate calls are serialized; an error from
// fn (or a cancelled context while waiting for the writer slot)
// publishes nothing.
func (s *SharedSnapshot) Mutate(ctx context.Context, fn func(*Snapshot) error) error {
	if err := s.writer.Acquire(ctx, 1); err != nil {
		return errors.Wrap(err, "acquiring snapshot writer lock")
	}
	defer s.writer.Release(1)

	next := s.cur.Load().clone()
	if err := fn(next); err != nil {
		return err
	}
	s.cur.Store(next)
	s.logger.Debug("published snapshot",
		zap.Int64("version", next.Version),
		zap.Int("tables", len(next.Tablets.Tables())))
	return nil
}
