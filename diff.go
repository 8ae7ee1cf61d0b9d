package habitat

// Diff returns the part of desired that observed does not already hold.
//
// Only keys of desired are considered, so keys present only in observed
// never appear in the result. A scalar is kept when observed lacks it or
// holds a different value. A mapping is compared recursively against the
// observed subtree (empty when absent or not a mapping) and kept only when
// the recursive result is non-empty. The result shares no storage with
// desired.
func Diff(desired, observed Tree) Tree {
	patch := Tree{}
	for key, want := range desired {
		have, ok := observed[key]

		if want.IsMapping() {
			var sub Tree
			if ok && have.IsMapping() {
				sub = have.mapping
			}
			if nested := Diff(want.mapping, sub); len(nested) > 0 {
				patch[key] = MappingValue(nested)
			}
			continue
		}

		if !ok || have.IsMapping() || !scalarEqual(want.scalar, have.scalar) {
			patch[key] = want.clone()
		}
	}
	return patch
}
