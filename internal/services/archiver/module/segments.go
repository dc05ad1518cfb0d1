package module

import (
	"context"

	"archiver/internal/services/archiver/domain"
)

// configuredSegments puts segments from options in front of the source's
// own definitions
type configuredSegments struct {
	src   domain.SegmentSource
	extra []string
}

func (c configuredSegments) Segments(ctx context.Context, site domain.SiteID) ([]string, error) {
	var from []string
	if c.src != nil {
		var err error
		if from, err = c.src.Segments(ctx, site); err != nil {
			return nil, err
		}
	}
	seen := make(map[string]struct{}, len(c.extra)+len(from))
	out := make([]string, 0, len(c.extra)+len(from))
	for _, list := range [][]string{c.extra, from} {
		for _, s := range list {
			if _, dup := seen[s]; dup || s == "" {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out, nil
}
