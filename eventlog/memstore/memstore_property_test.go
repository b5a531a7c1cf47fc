package memstore_test

import (
	"context"
	"strconv"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/seedrun/seed/eventlog"
	"github.com/seedrun/seed/eventlog/memstore"
	"github.com/seedrun/seed/ident"
)

var propTaskNames = []ident.TaskID{"t0", "t1", "t2"}

// appendOneFor appends a single event to task, arbitrary which event type
// since memstore has no opinion on event ordering semantics, only on
// sequence assignment.
func appendOneFor(ctx context.Context, s *memstore.Store, task ident.TaskID) error {
	_, err := s.Append(ctx, task, []eventlog.DomainEvent{
		eventlog.NewTaskInstructionAdded(task, "user", "x"),
	})
	return err
}

// TestOrderingProperties verifies spec.md §8's P1 (stream order) and P2
// (global order): no matter what order appends across interleaved tasks
// happen in, readStream's seq is gapless and increasing from 1 per task,
// and readAll's id is strictly increasing across the whole log.
func TestOrderingProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("P1: per-stream seq is gapless and increasing from 1", prop.ForAll(
		func(picks []int) bool {
			s := memstore.New()
			ctx := context.Background()
			for _, p := range picks {
				if err := appendOneFor(ctx, s, propTaskNames[p%len(propTaskNames)]); err != nil {
					return false
				}
			}
			for _, task := range propTaskNames {
				stream, err := s.ReadStream(ctx, task, 0)
				if err != nil {
					return false
				}
				for i, se := range stream {
					if se.Seq != uint64(i+1) {
						return false
					}
				}
			}
			return true
		},
		gen.SliceOfN(30, gen.IntRange(0, len(propTaskNames)-1)),
	))

	properties.Property("P2: readAll id is strictly increasing", prop.ForAll(
		func(picks []int) bool {
			s := memstore.New()
			ctx := context.Background()
			for _, p := range picks {
				if err := appendOneFor(ctx, s, propTaskNames[p%len(propTaskNames)]); err != nil {
					return false
				}
			}
			all, err := s.ReadAll(ctx, "")
			if err != nil || len(all) != len(picks) {
				return false
			}
			prev := uint64(0)
			for _, se := range all {
				id, err := strconv.ParseUint(string(se.ID), 10, 64)
				if err != nil || id <= prev {
					return false
				}
				prev = id
			}
			return true
		},
		gen.SliceOfN(30, gen.IntRange(0, len(propTaskNames)-1)),
	))

	properties.TestingRun(t)
}
