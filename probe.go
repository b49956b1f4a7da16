package openhash

// The probe engine shared by every owned and mapped variant. Linear
// probing from hash % capacity, wrapping once. Two facts drive the loop:
//
//   - A truly unused slot ends the chain: nothing past it can belong to
//     this chain, so the walk stops.
//   - A tombstone keeps its last live key. If a tombstone's key equals the
//     probe key, no live entry with that key can exist further along the
//     chain (it would have been found, or inserted here, before the
//     erase), so the walk stops without scanning the rest of the table.

// findSlot walks the chain for a key with the given hash. keyEq reports
// whether the key stored at a slot equals the probe key; it is called for
// both live and tombstoned slots.
//
// On a hit it returns (slot, true, slot). On a miss it returns
// (-1, false, insertAt) where insertAt is the first-fit insertion slot:
// the first tombstone or unused slot seen on the walk, or the slot where
// the walk ended after wrapping a table full of tombstones.
func findSlot(flags *BitPairSet, capacity int, hash uint64, keyEq func(int) bool) (slot int, found bool, insertAt int) {
	idx := int(hash % uint64(capacity))
	start := idx
	free := -1
	for {
		occupied, ever := flags.Get(idx)
		if !occupied && !ever {
			break
		}
		if !occupied && free < 0 {
			free = idx
		}
		if keyEq(idx) {
			if occupied {
				return idx, true, idx
			}
			// Matching tombstone: the key is absent, and this slot is
			// already recorded as the first fit.
			break
		}
		idx++
		if idx == capacity {
			idx = 0
		}
		if idx == start {
			break
		}
	}
	if free >= 0 {
		return -1, false, free
	}
	return -1, false, idx
}

// lookupSlot is findSlot for read paths: it returns the live slot holding
// the key, or -1.
func lookupSlot(flags *BitPairSet, capacity int, hash uint64, keyEq func(int) bool) int {
	if capacity == 0 {
		return -1
	}
	slot, found, _ := findSlot(flags, capacity, hash, keyEq)
	if !found {
		return -1
	}
	return slot
}

// eraseSlot finds the slot to tombstone for an erase. It returns -1 when
// the key is absent or already erased; the walk ends as soon as the key is
// seen, live or retained in a tombstone.
func eraseSlot(flags *BitPairSet, capacity int, hash uint64, keyEq func(int) bool) int {
	if capacity == 0 {
		return -1
	}
	idx := int(hash % uint64(capacity))
	start := idx
	for {
		occupied, ever := flags.Get(idx)
		if !occupied && !ever {
			return -1
		}
		if keyEq(idx) {
			if occupied {
				return idx
			}
			return -1
		}
		idx++
		if idx == capacity {
			idx = 0
		}
		if idx == start {
			return -1
		}
	}
}

// reinsertSlot places a key into a fresh, tombstone-free index during
// rehash. Capacity always exceeds the live count here, so a free slot
// exists.
func reinsertSlot(flags *BitPairSet, capacity int, hash uint64) int {
	idx := int(hash % uint64(capacity))
	for flags.Occupied(idx) {
		idx++
		if idx == capacity {
			idx = 0
		}
	}
	return idx
}

// nextCapacity computes the slot count for a rehash. A positive target is
// a live-entry capacity: the table is sized so target entries fit under
// loadFactor, and the rehash is skipped (ok = false) when target is below
// the current live count. With no target the table grows by growthFactor,
// always by at least one slot.
func nextCapacity(target, live, capacity int, loadFactor, growthFactor float64) (newCap int, ok bool) {
	if target > 0 {
		if target < live {
			return 0, false
		}
		return int(float64(target) / loadFactor), true
	}
	grown := int(float64(maxInt(1, capacity)) * growthFactor)
	return maxInt(capacity+1, grown), true
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
