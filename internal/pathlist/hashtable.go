package pathlist

import "github.com/dupd-go/dupd/internal/arena"

// bucketEntry pairs a digest with every entry Ref that produced it, mirroring
// dupfiles' DigestData chain-per-first-byte design (here keyed on the
// digest's *last* byte).
type bucketEntry struct {
	digest  string
	entries []arena.Ref
}

// HashTable is the per-candidate-set 256-bucket table keyed on the last
// byte of the digest. HasDuplicates flips true as soon as any chain places
// >=2 entries under the same digest.
type HashTable struct {
	buckets       [256][]bucketEntry
	HasDuplicates bool
}

// NewHashTable creates an empty table.
func NewHashTable() *HashTable {
	return &HashTable{}
}

// Add records entryRef's digest sum in the bucket chain keyed on the sum's
// last byte, setting HasDuplicates once a digest holds >=2 entries.
func (t *HashTable) Add(sum []byte, entryRef arena.Ref) {
	key := sum[len(sum)-1]
	chain := t.buckets[key]
	digest := string(sum)
	for i := range chain {
		if chain[i].digest == digest {
			chain[i].entries = append(chain[i].entries, entryRef)
			if len(chain[i].entries) >= 2 {
				t.HasDuplicates = true
			}
			t.buckets[key] = chain
			return
		}
	}
	t.buckets[key] = append(chain, bucketEntry{digest: digest, entries: []arena.Ref{entryRef}})
}

// Singletons returns every entry Ref whose digest chain has exactly one
// member — the "skim uniques" operation.
func (t *HashTable) Singletons() []arena.Ref {
	var out []arena.Ref
	for _, chain := range t.buckets {
		for _, b := range chain {
			if len(b.entries) == 1 {
				out = append(out, b.entries[0])
			}
		}
	}
	return out
}

// DuplicateChains returns every chain with >=2 members — the set of
// confirmed duplicate groups once a candidate set is fully read.
func (t *HashTable) DuplicateChains() [][]arena.Ref {
	var out [][]arena.Ref
	for _, chain := range t.buckets {
		for _, b := range chain {
			if len(b.entries) >= 2 {
				out = append(out, b.entries)
			}
		}
	}
	return out
}

// AnyMultiMember reports whether at least one chain still has >=2 entries
// (if no bucket chain still has >=2 entries, the whole set is
// DONE").
func (t *HashTable) AnyMultiMember() bool {
	for _, chain := range t.buckets {
		for _, b := range chain {
			if len(b.entries) >= 2 {
				return true
			}
		}
	}
	return false
}
