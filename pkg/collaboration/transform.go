package collaboration

// Transform rebases a against b, an edit committed concurrently with a.
// The result applies after b with a's intended effect. On equal insert
// positions b wins and a shifts right.
//
// A committed replace is its delete half followed by its insert half. A
// replace being rebased follows the delete rules and keeps its text.
func Transform(a, b Edit) Edit {
	switch b.Type {
	case OpInsert:
		return transformAgainstInsert(a, b.Position, b.textLen())
	case OpDelete:
		return transformAgainstDelete(a, b.Position, b.Length)
	case OpReplace:
		a = transformAgainstDelete(a, b.Position, b.Length)
		return transformAgainstInsert(a, b.Position, b.textLen())
	default:
		return a
	}
}

func transformAgainstInsert(a Edit, pos, n int) Edit {
	if pos <= a.Position {
		a.Position += n
	}
	return a
}

func transformAgainstDelete(a Edit, pos, n int) Edit {
	end := pos + n

	if a.Type == OpInsert {
		if pos <= a.Position {
			a.Position -= n
			if a.Position < pos {
				a.Position = pos
			}
		}
		return a
	}

	aEnd := a.Position + a.Length
	if end <= a.Position {
		a.Position -= n
		return a
	}
	if pos >= aEnd {
		return a
	}

	// Overlapping deletes: drop the part b already removed
	overlap := min(aEnd, end) - max(a.Position, pos)
	if overlap > 0 {
		a.Length -= overlap
	}
	if pos < a.Position {
		a.Position = pos
	}
	return a
}

// Rebase folds Transform over every history entry newer than the edit's
// base version, in commit order. history must be ordered by version.
// Rebase does not modify its inputs.
func Rebase(edit Edit, history []HistoryEntry) Edit {
	for _, entry := range history {
		if entry.Version > edit.BaseVersion {
			edit = Transform(edit, entry.Edit)
		}
	}
	return edit
}
