package slab

// CrankPersisted is the on-slab portion of the crank's state that survives
// between KeeperCrank invocations: the cursor, sweep bookkeeping, dust
// float, and the funding-rate rotation (stored vs. pending) that gives the
// crank its anti-retroactivity guarantee.
type CrankPersisted struct {
	StoredFundingRateBps  int64
	PendingFundingRateBps int64
	LastFundingSlot       uint64

	Cursor        uint32
	SweepStartIdx uint32
	SweepActive   bool
	DustAccum     uint64
}
