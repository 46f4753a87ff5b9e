package main

import (
	"github.com/dreamware/docbase/internal/planner"
	"github.com/dreamware/docbase/internal/writepath"
)

// plannerCatalog adapts writepath.Catalog (the live, mutable catalog the
// write path owns) to the narrow planner.Catalog interface, the same
// storage-interface discipline internal/planner's own doc comment calls
// out between itself and internal/writepath.
type plannerCatalog struct {
	catalog *writepath.Catalog
}

func (c plannerCatalog) IndexesFor(collection string) []planner.IndexDescriptor {
	entries := c.catalog.IndexesForMaintenance(collection)
	out := make([]planner.IndexDescriptor, 0, len(entries))
	for _, e := range entries {
		if e.Phase != writepath.BuildCommitted {
			continue
		}
		out = append(out, planner.IndexDescriptor{
			Name:    e.Index.Name,
			Index:   e.Index,
			Unique:  e.Index.Unique,
			Pattern: e.Index.Pattern,
		})
	}
	return out
}
