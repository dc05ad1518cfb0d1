// Package time contains time related helpers
package time

import (
	"sync"
	"time"
)

// Ptr returns a pointer to t or nil if t is zero
func Ptr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

var (
	locMu sync.Mutex
	locs  = map[string]*time.Location{}
)

// Location loads a zone by IANA name; blank and unknown names read as UTC.
// Lookups are cached for the process
func Location(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	locMu.Lock()
	defer locMu.Unlock()
	if loc, ok := locs[name]; ok {
		return loc
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		loc = time.UTC
	}
	locs[name] = loc
	return loc
}

// SameLocalDate reports whether a and b fall on the same calendar date in loc
func SameLocalDate(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}
