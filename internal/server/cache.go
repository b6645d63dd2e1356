package server

// actionCache remembers recently seen client action ids so retried
// submissions are answered with a rejection instead of a double apply.
// FIFO eviction; only the session goroutine touches it.
type actionCache struct {
	seen  map[string]struct{}
	order []string
	cap   int
}

func newActionCache(capacity int) *actionCache {
	if capacity <= 0 {
		capacity = 1000
	}
	return &actionCache{
		seen: make(map[string]struct{}, capacity),
		cap:  capacity,
	}
}

// Contains reports whether id was recorded already.
func (c *actionCache) Contains(id string) bool {
	if id == "" {
		return false
	}
	_, ok := c.seen[id]
	return ok
}

// Add records id and reports whether it was already present. Empty ids
// are never cached; a client that sends none opts out of deduplication.
func (c *actionCache) Add(id string) (duplicate bool) {
	if id == "" {
		return false
	}
	if _, ok := c.seen[id]; ok {
		return true
	}
	if len(c.order) >= c.cap {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.seen, oldest)
	}
	c.seen[id] = struct{}{}
	c.order = append(c.order, id)
	return false
}

func (c *actionCache) Len() int { return len(c.order) }

// Clear drops every recorded id. Called at game start so ids from a
// previous game cannot shadow new submissions.
func (c *actionCache) Clear() {
	c.seen = make(map[string]struct{}, c.cap)
	c.order = c.order[:0]
}
