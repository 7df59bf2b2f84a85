package slab

import "github.com/percolator-labs/percolator/internal/units"

// Magic and Version tag a slab account so a stray account of the wrong
// shape is rejected before any field is trusted.
const (
	Magic   uint64 = 0x504552434f4c4154 // "PERCOLAT"
	Version uint32 = 1
)

// MaxUnitScale bounds InitMarket's unit_scale, re-exported from
// internal/units for callers that only import this package.
const MaxUnitScale = units.MaxUnitScale

// UnsafeClose, when true, makes CloseSlab skip every safety check. It must
// never be true in a production build; it exists only so a test harness can
// tear down a slab without first winding down every account by hand.
//
// The map literal below is a compile-time assertion: Go rejects a map
// literal with two equal constant keys, so if UnsafeClose is ever flipped to
// true this package fails to build instead of silently shipping the
// bypass.
const UnsafeClose = false

var _ = map[bool]struct{}{true: {}, UnsafeClose: {}}
