package syncclient

import (
	"sort"
	"time"

	loudness "loudness-monitor/internal/loudness/domain"
)

// Collection is a time-ordered set of measurements unique by (stream_id, timestamp).
// It is not safe for concurrent use; Client guards it.
type Collection struct {
	items []loudness.Measurement
	keys  map[loudness.Key]struct{}
}

// NewCollection constructs an empty collection.
func NewCollection() *Collection {
	return &Collection{keys: make(map[loudness.Key]struct{})}
}

// Replace discards the current contents and loads batch.
func (c *Collection) Replace(batch []loudness.Measurement) {
	c.items = c.items[:0]
	c.keys = make(map[loudness.Key]struct{}, len(batch))
	c.Merge(batch)
}

// Merge appends entries whose key is not present and re-sorts ascending.
// It returns the number of entries added.
func (c *Collection) Merge(batch []loudness.Measurement) int {
	added := 0
	for _, m := range batch {
		m.Timestamp = m.Timestamp.UTC()
		key := m.Key()
		if _, ok := c.keys[key]; ok {
			continue
		}
		c.keys[key] = struct{}{}
		c.items = append(c.items, m)
		added++
	}
	if added > 0 {
		sort.Slice(c.items, func(i, j int) bool {
			a, b := c.items[i], c.items[j]
			if a.Timestamp.Equal(b.Timestamp) {
				return a.StreamID < b.StreamID
			}
			return a.Timestamp.Before(b.Timestamp)
		})
	}
	return added
}

// Len returns the number of entries.
func (c *Collection) Len() int { return len(c.items) }

// Items returns a copy of the ordered entries.
func (c *Collection) Items() []loudness.Measurement {
	return append([]loudness.Measurement(nil), c.items...)
}

// position is a keyset position in ascending (timestamp, id) order.
type position struct {
	ts time.Time
	id int64
}

func (p position) before(o position) bool {
	if p.ts.Equal(o.ts) {
		return p.id < o.id
	}
	return p.ts.Before(o.ts)
}

// resumeAfter returns the position the next fetch continues from. Rows
// without an id can only resume by timestamp, so a full batch holds back to
// the newest timestamp strictly below its last one: rows sharing the last
// timestamp may still be pending past the cap.
func resumeAfter(batch []loudness.Measurement, limit int) (position, bool) {
	var (
		last  position
		found bool
	)
	for _, m := range batch {
		p := position{ts: m.Timestamp.UTC(), id: m.ID}
		if !found || last.before(p) {
			last = p
			found = true
		}
	}
	if !found || last.id != 0 || limit <= 0 || len(batch) < limit {
		return last, found
	}
	var held time.Time
	for _, m := range batch {
		if m.Timestamp.Before(last.ts) && m.Timestamp.After(held) {
			held = m.Timestamp.UTC()
		}
	}
	if held.IsZero() {
		return last, true
	}
	return position{ts: held}, true
}
