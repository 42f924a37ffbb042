package importer

// LinkChildren attaches cascaded child summaries to their parents.
//
// Every parent first receives an empty nested collection. Each child
// reference is then owned by the first parent in payload order that carries
// it and has a summary, and every child summary is attached to the owner of
// its reference, so a summary is never attached twice. A child id reused
// under a second parent is reported under the first. Children whose parent
// has no summary are dropped, as are child summaries whose reference
// matches no child.
func LinkChildren[C any](
	parents *ImportSummaries,
	children []C,
	childSummaries *ImportSummaries,
	parentRef func(C) string,
	childRef func(C) string,
	attach func(parent *ImportSummary, nested *ImportSummaries),
) {
	if parents == nil {
		return
	}
	for _, p := range parents.ImportSummaries {
		attach(p, NewImportSummaries())
	}
	if childSummaries == nil || len(children) == 0 {
		return
	}

	owners := make(map[string]*ImportSummary, len(children))
	for _, c := range children {
		ref := childRef(c)
		if ref == "" {
			continue
		}
		if _, owned := owners[ref]; owned {
			continue
		}
		if pref := parentRef(c); pref != "" {
			if parent := parents.ByReference(pref); parent != nil {
				owners[ref] = parent
			}
		}
	}

	nested := make(map[*ImportSummary]*ImportSummaries)
	order := make([]*ImportSummary, 0, len(parents.ImportSummaries))
	for _, s := range childSummaries.ImportSummaries {
		parent, ok := owners[s.Reference]
		if s.Reference == "" || !ok {
			continue
		}
		if nested[parent] == nil {
			nested[parent] = NewImportSummaries()
			order = append(order, parent)
		}
		nested[parent].Add(s)
	}
	for _, parent := range order {
		attach(parent, nested[parent])
	}
}

// AttachEvents stores nested as the parent's event summaries.
func AttachEvents(parent *ImportSummary, nested *ImportSummaries) { parent.Events = nested }

// AttachEnrollments stores nested as the parent's enrollment summaries.
func AttachEnrollments(parent *ImportSummary, nested *ImportSummaries) { parent.Enrollments = nested }

