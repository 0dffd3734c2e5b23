// Package configops implements the FL's direct configuration
// operations: tag get/set/list/delete and route add/list/delete,
// plus a Validate query that checks the route table for full byte
// coverage before a mount or unpack ever hits a gap at fetch time.
// Grounded on backend/union's upstream-coverage reasoning (policy.go)
// adapted from "pick an upstream" to "does every byte value have one".
package configops

import (
	"sort"

	"github.com/pkg/errors"

	gflfs "github.com/threefoldtech/gofl/fs"
	"github.com/threefoldtech/gofl/fs/meta"
)

// SetTag inserts or replaces a tag.
func SetTag(m *meta.Store, key, value string) error {
	return m.PutTag(key, value)
}

// GetTag reads a single tag's value.
func GetTag(m *meta.Store, key string) (string, error) {
	return m.GetTag(key)
}

// DeleteTag removes a tag.
func DeleteTag(m *meta.Store, key string) error {
	return m.DeleteTag(key)
}

// ListTags returns every tag, sorted by key.
func ListTags(m *meta.Store) ([]gflfs.Tag, error) {
	return m.ListTags()
}

// AddRoute appends a new (range, backend URL) row to the route table.
func AddRoute(m *meta.Store, r gflfs.Route) error {
	if r.Start > r.End {
		return errors.Errorf("configops: route start %02x is after end %02x", r.Start, r.End)
	}
	if r.URL == "" {
		return errors.New("configops: route URL must not be empty")
	}
	return m.AddRoute(r)
}

// ListRoutes returns every route row, in insertion order.
func ListRoutes(m *meta.Store) ([]gflfs.Route, error) {
	return m.ListRoutes()
}

// DeleteRoute removes the route at position idx in ListRoutes order.
func DeleteRoute(m *meta.Store, idx int) error {
	return m.DeleteRoute(idx)
}

// Gap describes a span of the [0x00, 0xff] byte range with no covering
// route.
type Gap struct {
	Start byte
	End   byte
}

// ValidationReport summarizes whether an FL's route table covers every
// possible first hex byte of a block id.
type ValidationReport struct {
	Gaps []Gap
}

// Covered reports whether the route table leaves no gaps.
func (r ValidationReport) Covered() bool { return len(r.Gaps) == 0 }

// Validate walks m's route table and reports any byte values in
// [0x00, 0xff] that no route covers. This is the supplemental
// config-time strict-improvement on spec.md §3's "missing coverage is
// a configuration error discovered at fetch time": callers can run
// this before ever mounting or unpacking, the way backend/union's
// policy engine validates upstream coverage before serving traffic.
func Validate(m *meta.Store) (ValidationReport, error) {
	routes, err := m.ListRoutes()
	if err != nil {
		return ValidationReport{}, errors.Wrap(err, "configops: listing routes")
	}

	covered := make([]bool, 256)
	for _, r := range routes {
		for b := int(r.Start); b <= int(r.End); b++ {
			covered[b] = true
		}
	}

	var gaps []Gap
	inGap := false
	var start byte
	for b := 0; b < 256; b++ {
		if !covered[b] {
			if !inGap {
				inGap = true
				start = byte(b)
			}
			continue
		}
		if inGap {
			gaps = append(gaps, Gap{Start: start, End: byte(b - 1)})
			inGap = false
		}
	}
	if inGap {
		gaps = append(gaps, Gap{Start: start, End: 0xff})
	}

	sort.Slice(gaps, func(i, j int) bool { return gaps[i].Start < gaps[j].Start })
	return ValidationReport{Gaps: gaps}, nil
}
