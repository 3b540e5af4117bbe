package compaction

import (
	"sort"

	"github.com/rangekv/rangekv/internal/dbformat"
	"github.com/rangekv/rangekv/internal/run"
)

// Shard is one disjoint key sub-range of a job: [Lower, Upper) over user
// keys, nil meaning unbounded on that side.
type Shard struct {
	Lower []byte
	Upper []byte
}

// PlanShards partitions the job's key space into at most maxShards
// sub-ranges. Cut points are user keys taken from the input run boundaries,
// so every cut falls strictly between distinct user keys and a straddling
// tombstone is clamped at the same point on both sides. When too few
// distinct candidates exist, neighbouring sub-ranges collapse and fewer
// shards are returned.
func PlanShards(cmp dbformat.Comparer, metas []run.Meta, maxShards int) []Shard {
	if maxShards < 1 {
		maxShards = 1
	}
	if maxShards == 1 || len(metas) == 0 {
		return []Shard{{}}
	}

	var candidates [][]byte
	for _, m := range metas {
		if m.Smallest != nil {
			candidates = append(candidates, m.Smallest.UserKey())
		}
		if m.Largest.IsSet() {
			candidates = append(candidates, m.Largest.UserKey)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return cmp(candidates[i], candidates[j]) < 0
	})

	// Dedupe and drop the global smallest: a cut there would leave an
	// empty first shard.
	var cuts [][]byte
	for i, c := range candidates {
		if i == 0 {
			continue
		}
		if cmp(c, candidates[i-1]) == 0 {
			continue
		}
		cuts = append(cuts, append([]byte(nil), c...))
	}

	if len(cuts) > maxShards-1 {
		step := float64(len(cuts)) / float64(maxShards-1)
		reduced := make([][]byte, 0, maxShards-1)
		for i := 0; i < maxShards-1; i++ {
			reduced = append(reduced, cuts[int(float64(i)*step)])
		}
		cuts = reduced
	}

	shards := make([]Shard, 0, len(cuts)+1)
	var lower []byte
	for _, c := range cuts {
		shards = append(shards, Shard{Lower: lower, Upper: c})
		lower = c
	}
	shards = append(shards, Shard{Lower: lower})
	return shards
}

// contains reports whether the shard owns userKey.
func (s Shard) contains(cmp dbformat.Comparer, userKey []byte) bool {
	if s.Lower != nil && cmp(userKey, s.Lower) < 0 {
		return false
	}
	if s.Upper != nil && cmp(userKey, s.Upper) >= 0 {
		return false
	}
	return true
}
