package models

// Result is the durable record kept per target: unique URLs per kind in
// first-seen order.
type Result struct {
	Images []string `json:"images"`
	Videos []string `json:"videos"`
}

// Len returns the total number of URLs across both kinds.
func (r Result) Len() int {
	return len(r.Images) + len(r.Videos)
}

// IsEmpty reports whether the result holds no URLs.
func (r Result) IsEmpty() bool {
	return r.Len() == 0
}

// Merge returns the union of r and other, keeping r's order and appending
// URLs from other that r does not hold yet. The second return value holds only
// the URLs that were added.
func (r Result) Merge(other Result) (merged Result, added Result) {
	merged.Images, added.Images = mergeUnique(r.Images, other.Images)
	merged.Videos, added.Videos = mergeUnique(r.Videos, other.Videos)
	return merged, added
}

// Items flattens the result into archive items, images first.
func (r Result) Items() []Item {
	items := make([]Item, 0, r.Len())
	for _, u := range r.Images {
		items = append(items, Item{URL: u, Kind: KindImage})
	}
	for _, u := range r.Videos {
		items = append(items, Item{URL: u, Kind: KindVideo})
	}
	return items
}

func mergeUnique(base, extra []string) (merged, added []string) {
	seen := make(map[string]struct{}, len(base)+len(extra))
	merged = make([]string, 0, len(base)+len(extra))
	for _, u := range base {
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		merged = append(merged, u)
	}
	for _, u := range extra {
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		merged = append(merged, u)
		added = append(added, u)
	}
	return merged, added
}
