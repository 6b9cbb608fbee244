package bytecode

// Table is an open-addressed hash table from interned strings to values,
// using linear probing. Keys compare by pointer identity; the hash is
// the string's precomputed FNV-1a. Deleted slots become tombstones (nil
// key, true value) so probe chains stay unbroken; a nil key with a nil
// value terminates a probe.
type Table struct {
	count   int // live entries plus tombstones
	entries []Entry
}

// Entry is one table slot.
type Entry struct {
	Key   *StringObj
	Value Value
}

const tableMaxLoad = 0.75

// Get looks up key and reports whether it was present.
func (t *Table) Get(key *StringObj) (Value, bool) {
	if t.count == 0 {
		return NilValue(), false
	}
	entry := findEntry(t.entries, key)
	if entry.Key == nil {
		return NilValue(), false
	}
	return entry.Value, true
}

// Put inserts or updates key. It reports whether the key was new.
func (t *Table) Put(key *StringObj, value Value) bool {
	if float64(t.count+1) > float64(len(t.entries))*tableMaxLoad {
		t.grow()
	}
	entry := findEntry(t.entries, key)
	isNew := entry.Key == nil
	if isNew && entry.Value.IsNil() {
		// a fresh slot, not a recycled tombstone
		t.count++
	}
	entry.Key = key
	entry.Value = value
	return isNew
}

// Delete removes key, leaving a tombstone in its slot. It reports
// whether the key was present.
func (t *Table) Delete(key *StringObj) bool {
	if t.count == 0 {
		return false
	}
	entry := findEntry(t.entries, key)
	if entry.Key == nil {
		return false
	}
	entry.Key = nil
	entry.Value = BoolValue(true)
	return true
}

// PutAll copies every entry of from into t.
func (t *Table) PutAll(from *Table) {
	for i := range from.entries {
		entry := &from.entries[i]
		if entry.Key != nil {
			t.Put(entry.Key, entry.Value)
		}
	}
}

// FindString looks a string up by contents rather than identity. It is
// used only by the intern table, where identity has not been established
// yet.
func (t *Table) FindString(s string, hash uint32) *StringObj {
	if t.count == 0 {
		return nil
	}
	mask := uint32(len(t.entries) - 1)
	for idx := hash & mask; ; idx = (idx + 1) & mask {
		entry := &t.entries[idx]
		if entry.Key == nil {
			if entry.Value.IsNil() {
				return nil
			}
			// tombstone, keep probing
		} else if entry.Key.Hash == hash && entry.Key.Str == s {
			return entry.Key
		}
	}
}

// findEntry returns the slot for key: the occupied slot if present,
// otherwise the first tombstone on the probe chain, otherwise the empty
// slot that terminated it. The table is never full, so the probe always
// terminates.
func findEntry(entries []Entry, key *StringObj) *Entry {
	mask := uint32(len(entries) - 1)
	var tombstone *Entry
	for idx := key.Hash & mask; ; idx = (idx + 1) & mask {
		entry := &entries[idx]
		if entry.Key == key {
			return entry
		}
		if entry.Key == nil {
			if entry.Value.IsNil() {
				if tombstone != nil {
					return tombstone
				}
				return entry
			}
			if tombstone == nil {
				tombstone = entry
			}
		}
	}
}

// grow doubles the capacity (starting from 8, always a power of two) and
// re-inserts live entries, discarding tombstones.
func (t *Table) grow() {
	newCap := len(t.entries) * 2
	if newCap < 8 {
		newCap = 8
	}
	newEntries := make([]Entry, newCap)
	for i := range newEntries {
		newEntries[i].Value = NilValue()
	}

	count := 0
	for i := range t.entries {
		entry := &t.entries[i]
		if entry.Key == nil {
			continue
		}
		dest := findEntry(newEntries, entry.Key)
		dest.Key = entry.Key
		dest.Value = entry.Value
		count++
	}

	t.entries = newEntries
	t.count = count
}

// removeWhite deletes entries whose key is unmarked. The collector calls
// it on the intern table between mark and sweep, which is what makes the
// interned keys weak references.
func (t *Table) removeWhite() {
	for i := range t.entries {
		entry := &t.entries[i]
		if entry.Key != nil && !entry.Key.marked {
			t.Delete(entry.Key)
		}
	}
}

// Len returns the number of live entries.
func (t *Table) Len() int {
	n := 0
	for i := range t.entries {
		if t.entries[i].Key != nil {
			n++
		}
	}
	return n
}
