package domain

import (
	"net/url"
	"strconv"
	"strings"
)

// Job is one unit of report work: a site, a granularity, a date expression
// and an optional segment. Its identity is the canonical query string
type Job struct {
	Site        SiteID
	Granularity Granularity
	Date        string
	Segment     string
}

const (
	apiModule  = "API"
	apiMethod  = "VisitsSummary.get"
	apiFormat  = "json"
	apiTrigger = "archivephp"
)

// Query renders the job in its wire form. url.Values sorts keys, so equal
// jobs always render to the same string
func (j Job) Query() string {
	v := url.Values{}
	v.Set("module", apiModule)
	v.Set("method", apiMethod)
	v.Set("format", apiFormat)
	v.Set("trigger", apiTrigger)
	v.Set("idSite", j.Site.String())
	v.Set("period", string(j.Granularity))
	v.Set("date", j.Date)
	if j.Segment != "" {
		v.Set("segment", j.Segment)
	}
	return v.Encode()
}

// Key is the job identity used for dedup of redelivered results
func (j Job) Key() string { return j.Query() }

// WithSegment copies j with a segment qualifier
func (j Job) WithSegment(segment string) Job {
	j.Segment = segment
	return j
}

// IsDay reports whether j is a plain (unsegmented) day job
func (j Job) IsDay() bool { return j.Granularity == Day && j.Segment == "" }

// ParseJob recovers a job from its wire form. A leading path up to "?" is
// ignored. ok is false when the site, period or date cannot be attributed
func ParseJob(s string) (Job, bool) {
	if i := strings.IndexByte(s, '?'); i >= 0 {
		s = s[i+1:]
	}
	v, err := url.ParseQuery(s)
	if err != nil {
		return Job{}, false
	}
	id, err := strconv.ParseInt(v.Get("idSite"), 10, 64)
	if err != nil || id <= 0 {
		return Job{}, false
	}
	g, ok := ParseGranularity(v.Get("period"))
	if !ok {
		return Job{}, false
	}
	date := v.Get("date")
	if date == "" {
		return Job{}, false
	}
	return Job{Site: SiteID(id), Granularity: g, Date: date, Segment: v.Get("segment")}, true
}
