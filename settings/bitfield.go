package settings

import "fmt"

// Bitfield is an integer where each bit position represents one named boolean
// setting. The zero value has no flags set.
type Bitfield int64

// Flag is the stable name of a single bit in a FlagSet.
type Flag string

// UnknownFlagError is returned when a flag name is used against a FlagSet
// that does not declare it. It indicates a programming error, not an
// operational condition, so callers are expected to propagate it.
type UnknownFlagError struct {
	Set  string
	Flag Flag
}

func (e *UnknownFlagError) Error() string {
	return fmt.Sprintf("settings: flag %q is not declared in set %s", e.Flag, e.Set)
}

// FlagSet maps a fixed, ordered list of flag names to power-of-two bit
// values. Each flag gets the bit matching its position in the declared order,
// so the encoding is stable as long as new flags are only appended.
type FlagSet struct {
	name  string
	order []Flag
	bits  map[Flag]Bitfield
}

// NewFlagSet assigns each flag a distinct power-of-two value in declaration
// order.
func NewFlagSet(name string, flags ...Flag) FlagSet {
	s := FlagSet{
		name:  name,
		order: flags,
		bits:  make(map[Flag]Bitfield, len(flags)),
	}
	for i, f := range flags {
		s.bits[f] = 1 << i
	}
	return s
}

// Bit returns the bit value assigned to a flag.
func (s FlagSet) Bit(f Flag) (Bitfield, error) {
	b, ok := s.bits[f]
	if !ok {
		return 0, &UnknownFlagError{Set: s.name, Flag: f}
	}
	return b, nil
}

// Has reports whether the flag is set in v.
func (s FlagSet) Has(v Bitfield, f Flag) (bool, error) {
	b, err := s.Bit(f)
	if err != nil {
		return false, err
	}
	return v&b != 0, nil
}

// Set returns v with the flag set.
func (s FlagSet) Set(v Bitfield, f Flag) (Bitfield, error) {
	b, err := s.Bit(f)
	if err != nil {
		return v, err
	}
	return v | b, nil
}

// Clear returns v with the flag cleared.
func (s FlagSet) Clear(v Bitfield, f Flag) (Bitfield, error) {
	b, err := s.Bit(f)
	if err != nil {
		return v, err
	}
	return v &^ b, nil
}

// Flags returns the declared flag names in order.
func (s FlagSet) Flags() []Flag {
	out := make([]Flag, len(s.order))
	copy(out, s.order)
	return out
}

// Merge unions the set bits of two snapshots. A bit set in either input stays
// set; merging a stale snapshot can never un-set a consent bit, only an
// explicit Clear can.
func Merge(old, new Bitfield) Bitfield {
	return old | new
}
