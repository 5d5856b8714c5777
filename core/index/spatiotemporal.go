// Package index implements the in-memory spatiotemporal index: a multi-level
// structure keyed by (domain, task type, time bucket) that returns candidate
// episode IDs in better-than-linear time relative to a full corpus scan.
//
// The index is never the source of truth for episode content, only for
// "where to look": each entry holds denormalized filter keys and a copy of
// the embedding, roughly 150-250 bytes per episode plus the vector. Growth
// is unbounded in memory; corpora beyond ~1M episodes need index
// persistence/paging, which this package does not provide.
//
// Concurrency: a read-preferring RWMutex guards all structures. Readers
// never observe a half-applied insert, and only the consistency coordinator
// mutates the index.
package index

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/adalundhe/engram/core/episode"
)

// Entry is the per-episode record held by the index.
type Entry struct {
	ID          uuid.UUID
	Domain      string
	TaskType    string
	BucketKey   string
	Granularity episode.Granularity
	StartTime   time.Time
	Embedding   []float32
}

// Filter selects candidate episodes. Zero-value fields match everything;
// populated fields combine with logical AND.
type Filter struct {
	Domain   string
	TaskType string
	Since    time.Time
	Until    time.Time
}

// BucketGroup is a time bucket's worth of candidates, used by the retriever
// to narrow by recency before scoring. Start is the bucket's start time;
// recency ordering uses it rather than the key, since key strings only sort
// chronologically within a single granularity.
type BucketGroup struct {
	Key   string
	Start time.Time
	IDs   []uuid.UUID
}

// Stats is a snapshot of index counters.
type Stats struct {
	Entries          int   `json:"entries"`
	Domains          int   `json:"domains"`
	Inserts          int64 `json:"inserts"`
	Removes          int64 `json:"removes"`
	Queries          int64 `json:"queries"`
	CandidatesServed int64 `json:"candidates_served"`
}

// Spatiotemporal is the concrete multi-level index: domain -> task type ->
// time bucket -> set of episode IDs, with a flat reverse map for O(1)
// removal and entry lookup.
type Spatiotemporal struct {
	mu sync.RWMutex

	// Nested candidate sets
	domains map[string]map[string]map[string]map[uuid.UUID]struct{}

	// Reverse lookup by episode ID
	entries map[uuid.UUID]Entry

	// Counters (atomic so Stats never needs the write lock)
	inserts          atomic.Int64
	removes          atomic.Int64
	queries          atomic.Int64
	candidatesServed atomic.Int64
}

// NewSpatiotemporal creates an empty index.
func NewSpatiotemporal() *Spatiotemporal {
	return &Spatiotemporal{
		domains: make(map[string]map[string]map[string]map[uuid.UUID]struct{}),
		entries: make(map[uuid.UUID]Entry),
	}
}

// Insert adds or replaces the entry for an episode. Re-inserting the same ID
// replaces the previous entry wholesale, so a corrected timestamp moves the
// episode to its new bucket.
func (st *Spatiotemporal) Insert(ep *episode.Episode) error {
	if err := ep.Validate(); err != nil {
		return err
	}

	granularity := episode.GranularityForAge(ep.StartTime, time.Now().UTC())
	entry := Entry{
		ID:          ep.ID,
		Domain:      ep.Domain,
		TaskType:    ep.TaskType,
		BucketKey:   episode.BucketKey(ep.StartTime, granularity),
		Granularity: granularity,
		StartTime:   ep.StartTime,
	}
	if ep.HasEmbedding() {
		entry.Embedding = make([]float32, len(ep.Embedding))
		copy(entry.Embedding, ep.Embedding)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	// Idempotence: drop any previous entry for this ID first.
	if prev, ok := st.entries[ep.ID]; ok {
		st.removeLocked(prev)
	}

	tasks, ok := st.domains[entry.Domain]
	if !ok {
		tasks = make(map[string]map[string]map[uuid.UUID]struct{})
		st.domains[entry.Domain] = tasks
	}
	buckets, ok := tasks[entry.TaskType]
	if !ok {
		buckets = make(map[string]map[uuid.UUID]struct{})
		tasks[entry.TaskType] = buckets
	}
	ids, ok := buckets[entry.BucketKey]
	if !ok {
		ids = make(map[uuid.UUID]struct{})
		buckets[entry.BucketKey] = ids
	}

	ids[entry.ID] = struct{}{}
	st.entries[entry.ID] = entry
	st.inserts.Add(1)

	return nil
}

// Remove deletes every entry for the given ID. Removing an absent ID is a
// no-op and returns false.
func (st *Spatiotemporal) Remove(id uuid.UUID) bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	entry, ok := st.entries[id]
	if !ok {
		return false
	}

	st.removeLocked(entry)
	st.removes.Add(1)
	return true
}

// removeLocked unlinks an entry from the nested maps. Caller holds the
// write lock.
func (st *Spatiotemporal) removeLocked(entry Entry) {
	delete(st.entries, entry.ID)

	tasks, ok := st.domains[entry.Domain]
	if !ok {
		return
	}
	buckets, ok := tasks[entry.TaskType]
	if !ok {
		return
	}
	ids, ok := buckets[entry.BucketKey]
	if !ok {
		return
	}

	delete(ids, entry.ID)
	if len(ids) == 0 {
		delete(buckets, entry.BucketKey)
	}
	if len(buckets) == 0 {
		delete(tasks, entry.TaskType)
	}
	if len(tasks) == 0 {
		delete(st.domains, entry.Domain)
	}
}

// Query returns the IDs of all entries matching the filter, sorted by ID
// string for deterministic output.
func (st *Spatiotemporal) Query(f Filter) []uuid.UUID {
	st.queries.Add(1)

	st.mu.RLock()
	defer st.mu.RUnlock()

	var results []uuid.UUID
	st.walkLocked(f, func(entry Entry) {
		results = append(results, entry.ID)
	})

	sort.Slice(results, func(i, j int) bool {
		return results[i].String() < results[j].String()
	})

	st.candidatesServed.Add(int64(len(results)))
	return results
}

// QueryGrouped returns matching entries grouped by time bucket, most recent
// bucket first. IDs within a group are sorted for determinism.
func (st *Spatiotemporal) QueryGrouped(f Filter) []BucketGroup {
	st.queries.Add(1)

	st.mu.RLock()
	defer st.mu.RUnlock()

	grouped := make(map[string][]uuid.UUID)
	starts := make(map[string]time.Time)
	st.walkLocked(f, func(entry Entry) {
		grouped[entry.BucketKey] = append(grouped[entry.BucketKey], entry.ID)
		if _, ok := starts[entry.BucketKey]; !ok {
			start, _ := episode.BucketBounds(entry.StartTime, entry.Granularity)
			starts[entry.BucketKey] = start
		}
	})

	groups := make([]BucketGroup, 0, len(grouped))
	for key, ids := range grouped {
		sort.Slice(ids, func(i, j int) bool {
			return ids[i].String() < ids[j].String()
		})
		st.candidatesServed.Add(int64(len(ids)))
		groups = append(groups, BucketGroup{Key: key, Start: starts[key], IDs: ids})
	}

	// Newest bucket first. Sorting by start time, not key, keeps mixed
	// granularities in true chronological order (a quarterly key like
	// "2026-Q1" would otherwise string-sort ahead of a monthly "2026-07").
	// Key breaks ties so the order stays deterministic.
	sort.Slice(groups, func(i, j int) bool {
		if !groups[i].Start.Equal(groups[j].Start) {
			return groups[i].Start.After(groups[j].Start)
		}
		return groups[i].Key > groups[j].Key
	})
	return groups
}

// walkLocked visits every entry matching the filter. Caller holds at least
// the read lock.
func (st *Spatiotemporal) walkLocked(f Filter, visit func(Entry)) {
	domains := st.domains
	if f.Domain != "" {
		tasks, ok := st.domains[f.Domain]
		if !ok {
			return
		}
		domains = map[string]map[string]map[string]map[uuid.UUID]struct{}{f.Domain: tasks}
	}

	for _, tasks := range domains {
		scoped := tasks
		if f.TaskType != "" {
			buckets, ok := tasks[f.TaskType]
			if !ok {
				continue
			}
			scoped = map[string]map[string]map[uuid.UUID]struct{}{f.TaskType: buckets}
		}

		for _, buckets := range scoped {
			for _, ids := range buckets {
				for id := range ids {
					entry := st.entries[id]
					if !f.Since.IsZero() && entry.StartTime.Before(f.Since) {
						continue
					}
					if !f.Until.IsZero() && !entry.StartTime.Before(f.Until) {
						continue
					}
					visit(entry)
				}
			}
		}
	}
}

// Entry returns the index entry for an ID.
func (st *Spatiotemporal) Entry(id uuid.UUID) (Entry, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	entry, ok := st.entries[id]
	return entry, ok
}

// Len returns the number of indexed episodes.
func (st *Spatiotemporal) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.entries)
}

// Stats returns a snapshot of the index counters.
func (st *Spatiotemporal) Stats() Stats {
	st.mu.RLock()
	entries := len(st.entries)
	domains := len(st.domains)
	st.mu.RUnlock()

	return Stats{
		Entries:          entries,
		Domains:          domains,
		Inserts:          st.inserts.Load(),
		Removes:          st.removes.Load(),
		Queries:          st.queries.Load(),
		CandidatesServed: st.candidatesServed.Load(),
	}
}
