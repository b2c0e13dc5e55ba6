package ifmap

// Built-in platform tables.
//
// Only layouts confirmed against a running host belong here. The slot block
// size and onboard count differ across router families, so new platforms are
// added by passing extra tables to NewResolver, not by extrapolating from
// these. An unlisted platform fails resolution loudly.

// DefaultTables returns the platform tables known to be correct.
func DefaultTables() []*PlatformTable {
	return []*PlatformTable{
		{
			// Modular ISR family: two onboard FastEthernets, NM slots in
			// 16-index blocks. f1/0 lands on index 16, f2/0 on 32.
			Platform:  "c3725",
			Onboard:   []string{"f0/0", "f0/1"},
			BlockSize: 16,
			Slots: map[int][]string{
				1: {"f1/0", "f1/1"},
				2: {"f2/0", "f2/1"},
			},
		},
		{
			// Same chassis scheme, one additional usable slot.
			Platform:  "c3745",
			Onboard:   []string{"f0/0", "f0/1"},
			BlockSize: 16,
			Slots: map[int][]string{
				1: {"f1/0", "f1/1"},
				2: {"f2/0", "f2/1"},
				3: {"f3/0", "f3/1"},
			},
		},
	}
}

// DefaultResolver returns a Resolver over DefaultTables.
func DefaultResolver() *Resolver {
	r, err := NewResolver(DefaultTables()...)
	if err != nil {
		// Built-in tables are static; a construction failure is a bug.
		panic(err)
	}
	return r
}
