package domain

import (
	"bytes"
	"encoding/json"
	"io"
	"sort"
	"strconv"
	"strings"

	perr "archiver/internal/platform/errors"
)

// Visits is what a day response tells the orchestrator
type Visits struct {
	// Today is nb_visits of the chronologically last entry
	Today int64
	// Window is nb_visits summed over every entry
	Window int64
}

type entry struct {
	date   string
	visits int64
}

// ParseVisits reads a report response body. Accepted shapes are a single
// object with nb_visits, an object keyed by date, and an array of objects
// carrying date and nb_visits. Empty bodies, bodies that are not JSON and
// bodies with result=error are invalid
func ParseVisits(body string) (Visits, error) {
	b := bytes.TrimSpace([]byte(body))
	if len(b) == 0 {
		return Visits{}, perr.Transportf("empty response")
	}

	var entries []entry
	switch b[0] {
	case '{':
		var obj map[string]json.RawMessage
		if err := decode(b, &obj); err != nil {
			return Visits{}, perr.Wrapf(err, perr.ErrorCodeTransport, "malformed response")
		}
		if raw, ok := obj["result"]; ok && isErrorResult(raw) {
			return Visits{}, perr.Transportf("report error: %s", message(obj))
		}
		if raw, ok := obj["nb_visits"]; ok {
			n, err := count(raw)
			if err != nil {
				return Visits{}, err
			}
			return Visits{Today: n, Window: n}, nil
		}
		for date, raw := range obj {
			n, err := entryVisits(raw)
			if err != nil {
				return Visits{}, err
			}
			entries = append(entries, entry{date: date, visits: n})
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].date < entries[j].date })
	case '[':
		var arr []map[string]json.RawMessage
		if err := decode(b, &arr); err != nil {
			return Visits{}, perr.Wrapf(err, perr.ErrorCodeTransport, "malformed response")
		}
		for _, m := range arr {
			n, err := count(m["nb_visits"])
			if err != nil {
				return Visits{}, err
			}
			var date string
			_ = json.Unmarshal(m["date"], &date)
			entries = append(entries, entry{date: date, visits: n})
		}
		sort.SliceStable(entries, func(i, j int) bool { return entries[i].date < entries[j].date })
	default:
		return Visits{}, perr.Transportf("unexpected response: %.64s", body)
	}

	var v Visits
	for _, e := range entries {
		v.Window += e.visits
	}
	if len(entries) > 0 {
		v.Today = entries[len(entries)-1].visits
	}
	return v, nil
}

// decode reads exactly one JSON value; anything after it makes the body invalid
func decode(b []byte, into any) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(into); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return perr.Transportf("trailing data after response")
	}
	return nil
}

// entryVisits handles one value of a date-keyed object: an object with
// nb_visits, an empty array for a day without data, or a bare number
func entryVisits(raw json.RawMessage) (int64, error) {
	t := bytes.TrimSpace(raw)
	if len(t) == 0 {
		return 0, nil
	}
	switch t[0] {
	case '{':
		var m map[string]json.RawMessage
		if err := decode(t, &m); err != nil {
			return 0, perr.Wrapf(err, perr.ErrorCodeTransport, "malformed entry")
		}
		return count(m["nb_visits"])
	case '[':
		return 0, nil
	}
	return count(t)
}

// count reads nb_visits given as a number or a numeric string; absent is 0
func count(raw json.RawMessage) (int64, error) {
	t := bytes.TrimSpace(raw)
	if len(t) == 0 || string(t) == "null" {
		return 0, nil
	}
	var s string
	if t[0] == '"' {
		if err := json.Unmarshal(t, &s); err != nil {
			return 0, perr.Wrapf(err, perr.ErrorCodeTransport, "malformed nb_visits")
		}
	} else {
		s = string(t)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, perr.Transportf("nb_visits is not numeric: %q", s)
	}
	return int64(f), nil
}

func isErrorResult(raw json.RawMessage) bool {
	var s string
	return json.Unmarshal(raw, &s) == nil && strings.EqualFold(s, "error")
}

func message(obj map[string]json.RawMessage) string {
	var s string
	if err := json.Unmarshal(obj["message"], &s); err != nil || s == "" {
		return "unknown"
	}
	return s
}
