package main

import (
	"github.com/threefoldtech/gofl/backend"
	gflfs "github.com/threefoldtech/gofl/fs"
)

// parseRouteFlags turns repeated --route "[start-end=]url" flags into
// route rows, using the same grammar spec.md §6 defines for FL route
// tables (backend.ParseRoutedURL).
func parseRouteFlags(raw []string) ([]gflfs.Route, error) {
	routes := make([]gflfs.Route, 0, len(raw))
	for _, cell := range raw {
		start, end, url, err := backend.ParseRoutedURL(cell)
		if err != nil {
			return nil, err
		}
		routes = append(routes, gflfs.Route{Start: start, End: end, URL: url})
	}
	return routes, nil
}
