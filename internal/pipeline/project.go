package pipeline

import (
	"github.com/dreamware/docbase/internal/bsonkit"
	"github.com/dreamware/docbase/internal/opctx"
)

// ProjectSpec names which top-level fields a Project stage keeps (Include)
// or drops (Exclude). A spec with any Include entries runs in
// inclusion mode (only those fields, plus "_id" unless it's explicitly
// excluded); otherwise it runs in exclusion mode, keeping everything not
// named in Exclude.
type ProjectSpec struct {
	Include []string
	Exclude []string
}

// Project restricts each row's document to the fields spec keeps.
type Project struct {
	child Stage
	spec  ProjectSpec
	stats Stats
}

// NewProject wraps child, reshaping every row's document per spec.
func NewProject(child Stage, spec ProjectSpec) *Project {
	return &Project{child: child, spec: spec}
}

func (s *Project) GetNext(oc *opctx.OperationContext) (Row, StageResult, error) {
	row, result, err := s.child.GetNext(oc)
	if result != Advanced || err != nil {
		bump(&s.stats, false)
		return row, result, err
	}
	row.Doc = applyProjection(row.Doc, s.spec)
	bump(&s.stats, true)
	return row, Advanced, nil
}

func applyProjection(doc *bsonkit.Document, spec ProjectSpec) *bsonkit.Document {
	if len(spec.Include) > 0 {
		keep := make(map[string]bool, len(spec.Include)+1)
		for _, f := range spec.Include {
			keep[f] = true
		}
		excludeID := false
		for _, f := range spec.Exclude {
			if f == "_id" {
				excludeID = true
			}
		}
		if !excludeID {
			keep["_id"] = true
		}
		out := &bsonkit.Document{}
		for _, f := range doc.Fields {
			if keep[f.Name] {
				out.Fields = append(out.Fields, f)
			}
		}
		return out
	}

	if len(spec.Exclude) > 0 {
		drop := make(map[string]bool, len(spec.Exclude))
		for _, f := range spec.Exclude {
			drop[f] = true
		}
		out := &bsonkit.Document{}
		for _, f := range doc.Fields {
			if !drop[f.Name] {
				out.Fields = append(out.Fields, f)
			}
		}
		return out
	}
	return doc
}

func (s *Project) SaveState() error    { return s.child.SaveState() }
func (s *Project) RestoreState() error { return s.child.RestoreState() }
func (s *Project) Stats() Stats        { return s.stats }
