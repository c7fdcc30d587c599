package extract

import (
	"sync"

	"mediagrab/pkg/models"
)

// SeenSet remembers which URLs were already reported, per kind. It lives as
// long as the page session and is only cleared by an explicit Reset.
type SeenSet struct {
	mu    sync.Mutex
	limit int
	kinds map[models.Kind]*seenKind
}

type seenKind struct {
	set   map[string]struct{}
	order []string
}

// SeenOption configures a SeenSet
type SeenOption func(*SeenSet)

// WithSeenLimit caps each kind at n URLs, evicting the oldest first.
// Zero means unbounded.
func WithSeenLimit(n int) SeenOption {
	return func(s *SeenSet) {
		if n > 0 {
			s.limit = n
		}
	}
}

// NewSeenSet creates an empty set
func NewSeenSet(opts ...SeenOption) *SeenSet {
	s := &SeenSet{kinds: make(map[models.Kind]*seenKind)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add records url and reports whether it was new.
func (s *SeenSet) Add(kind models.Kind, url string) bool {
	if url == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.kinds[kind]
	if !ok {
		k = &seenKind{set: make(map[string]struct{})}
		s.kinds[kind] = k
	}
	if _, dup := k.set[url]; dup {
		return false
	}
	k.set[url] = struct{}{}

	if s.limit == 0 {
		return true
	}
	k.order = append(k.order, url)
	if len(k.order) > s.limit {
		oldest := k.order[0]
		k.order = k.order[1:]
		delete(k.set, oldest)
	}
	return true
}

// Has reports whether url was already seen
func (s *SeenSet) Has(kind models.Kind, url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.kinds[kind]
	if !ok {
		return false
	}
	_, found := k.set[url]
	return found
}

// Len returns the number of remembered URLs of kind
func (s *SeenSet) Len(kind models.Kind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k, ok := s.kinds[kind]; ok {
		return len(k.set)
	}
	return 0
}

// Reset forgets everything
func (s *SeenSet) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kinds = make(map[models.Kind]*seenKind)
}
