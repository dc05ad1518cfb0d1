// Package policy holds the pure decision rules of the archiver: which
// sites to process, when a TTL forbids re-archiving, and which date
// expression a job carries
package policy

import (
	"sort"
	"time"

	ptime "archiver/internal/platform/time"

	"archiver/internal/services/archiver/domain"
)

// SelectionInput is everything site selection looks at
type SelectionInput struct {
	// Include, when non-empty, is the candidate list and nothing else is consulted
	Include []domain.SiteID
	// AllSites selects the whole universe
	AllSites bool
	// Universe is every existing site id
	Universe []domain.SiteID

	Visited     []domain.SiteID
	Invalidated []domain.SiteID
	// RolledOver are sites whose local date changed since the last run
	RolledOver []domain.SiteID

	Filter domain.SiteFilter
}

// SelectSites returns the candidate sites in first-seen order, without
// duplicates and restricted to the universe. The skip list is not applied
// here; the producer drops those sites at dispatch
func SelectSites(in SelectionInput) []domain.SiteID {
	var candidates []domain.SiteID
	switch {
	case len(in.Include) > 0:
		candidates = in.Include
	case in.AllSites:
		candidates = in.Universe
	default:
		candidates = make([]domain.SiteID, 0, len(in.Visited)+len(in.Invalidated)+len(in.RolledOver))
		candidates = append(candidates, in.Visited...)
		candidates = append(candidates, in.Invalidated...)
		candidates = append(candidates, in.RolledOver...)
	}

	out := restrict(candidates, in.Universe)
	if in.Filter != nil {
		out = restrict(in.Filter(out), in.Universe)
	}
	return out
}

func restrict(ids, universe []domain.SiteID) []domain.SiteID {
	known := make(map[domain.SiteID]struct{}, len(universe))
	for _, id := range universe {
		known[id] = struct{}{}
	}
	seen := make(map[domain.SiteID]struct{}, len(ids))
	out := make([]domain.SiteID, 0, len(ids))
	for _, id := range ids {
		if _, ok := known[id]; !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// SinceWindow is how far back to look for traffic: the forced value when
// set, else the time since the last full run, else def
func SinceWindow(lastRun time.Time, now time.Time, forced, def time.Duration) time.Duration {
	if forced > 0 {
		return forced
	}
	if lastRun.IsZero() || !now.After(lastRun) {
		return def
	}
	return now.Sub(lastRun)
}

// RolledOverTimezones returns the sites of every timezone whose calendar
// date differs between lastRun and now. A zero lastRun yields nothing.
// Unknown zone names are read as UTC
func RolledOverTimezones(tzs map[string][]domain.SiteID, lastRun, now time.Time) []domain.SiteID {
	if lastRun.IsZero() {
		return nil
	}
	names := make([]string, 0, len(tzs))
	for name := range tzs {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []domain.SiteID
	for _, name := range names {
		if !ptime.SameLocalDate(lastRun, now, ptime.Location(name)) {
			out = append(out, tzs[name]...)
		}
	}
	return out
}
