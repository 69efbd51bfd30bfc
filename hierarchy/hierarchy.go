// Package hierarchy resolves a form's flat question list into its conditional
// tree: which questions are visible for a set of partial answers, and the
// canonical depth-first renumbering applied before a form is persisted.
package hierarchy

import (
	"fmt"
	"strings"

	"github.com/formdesk/formdesk/model"
)

// Answers maps question id to the value currently entered for it.
type Answers map[string]model.Value

// Index is a validated arena over a flat question list. Construction rejects
// duplicate ids, dangling parent references, parent options not owned by the
// parent question, option lists on non-select types, and cycles.
type Index struct {
	questions []model.Question
	byID      map[string]model.Question
	children  map[string][]model.Question
}

func NewIndex(questions []model.Question) (*Index, error) {
	byID := make(map[string]model.Question, len(questions))
	for _, q := range questions {
		if q.ID == "" {
			return nil, fmt.Errorf("question with empty id")
		}
		if _, dup := byID[q.ID]; dup {
			return nil, fmt.Errorf("duplicate question id %q", q.ID)
		}
		if !q.Type.Valid() {
			return nil, fmt.Errorf("question %q: unknown type %q", q.ID, q.Type)
		}
		if q.Type.HasOptions() != (len(q.Options) > 0) {
			return nil, fmt.Errorf("question %q: options are allowed exactly on select and multiselect types", q.ID)
		}
		byID[q.ID] = q
	}

	children := make(map[string][]model.Question)
	for _, q := range questions {
		if q.IsRoot() {
			if q.ParentOptionID != "" {
				return nil, fmt.Errorf("question %q: parentOptionId without parentId", q.ID)
			}
			continue
		}

		parent, ok := byID[q.ParentID]
		if !ok {
			return nil, fmt.Errorf("question %q: parent %q not in list", q.ID, q.ParentID)
		}
		if _, ok := parent.Option(q.ParentOptionID); !ok {
			return nil, fmt.Errorf("question %q: option %q does not belong to parent %q", q.ID, q.ParentOptionID, q.ParentID)
		}
		children[q.ParentID] = append(children[q.ParentID], q)
	}

	// walk every parent chain up to a root
	for _, q := range questions {
		seen := map[string]bool{q.ID: true}
		for cur := q; !cur.IsRoot(); {
			cur = byID[cur.ParentID]
			if seen[cur.ID] {
				return nil, fmt.Errorf("question %q: parent cycle", q.ID)
			}
			seen[cur.ID] = true
		}
	}

	return &Index{questions: questions, byID: byID, children: children}, nil
}

func (ix *Index) Question(id string) (model.Question, bool) {
	q, ok := ix.byID[id]
	return q, ok
}

// Children returns the sub-questions revealed by selecting the given option
// of the given question, in list order.
func (ix *Index) Children(parentID, optionID string) []model.Question {
	var subs []model.Question
	for _, q := range ix.children[parentID] {
		if q.ParentOptionID == optionID {
			subs = append(subs, q)
		}
	}
	return subs
}

func (ix *Index) Roots() []model.Question {
	var roots []model.Question
	for _, q := range ix.questions {
		if q.IsRoot() {
			roots = append(roots, q)
		}
	}
	return roots
}

// Visible computes the questions shown for the answers entered so far, each
// parent immediately followed by its triggered sub-questions. Recursion goes
// to arbitrary depth. Absent answers and references to unknown options simply
// reveal nothing.
func Visible(questions []model.Question, answers Answers) []model.Question {
	children := childrenOf(questions)

	var out []model.Question
	var emit func(q model.Question)
	emit = func(q model.Question) {
		out = append(out, q)
		if !q.Type.HasOptions() {
			return
		}
		ans, ok := answers[q.ID]
		if !ok || ans.IsNull() {
			return
		}

		selected := map[string]bool{}
		switch q.Type {
		case model.QuestionSelect:
			if id, ok := ans.OptionID(); ok {
				selected[id] = true
			}
		case model.QuestionMultiselect:
			if ids, ok := ans.OptionIDs(); ok {
				for _, id := range ids {
					selected[id] = true
				}
			}
		}

		for _, sub := range children[q.ID] {
			if selected[sub.ParentOptionID] {
				emit(sub)
			}
		}
	}

	for _, q := range questions {
		if q.IsRoot() {
			emit(q)
		}
	}
	return out
}

// Canonicalize flattens an edited question list into its canonical depth-first
// order and renumbers it with fresh sequential ids (q001, q002, ...),
// rewriting parentId references through the old-to-new mapping. Questions with
// blank text, and sub-questions not reachable from a root through an existing
// option, are dropped. Applying Canonicalize to its own output is a no-op.
func Canonicalize(questions []model.Question) []model.Question {
	kept := make([]model.Question, 0, len(questions))
	for _, q := range questions {
		if strings.TrimSpace(q.Text) != "" {
			kept = append(kept, q)
		}
	}
	childIdx := make(map[string][]int)
	for i, q := range kept {
		if !q.IsRoot() {
			childIdx[q.ParentID] = append(childIdx[q.ParentID], i)
		}
	}

	// emitted guards against duplicate-id input that would otherwise loop
	emitted := make([]bool, len(kept))
	var ordered []model.Question
	var expand func(i int)
	expand = func(i int) {
		if emitted[i] {
			return
		}
		emitted[i] = true
		q := kept[i]
		ordered = append(ordered, q)
		for _, opt := range q.Options {
			for _, j := range childIdx[q.ID] {
				if kept[j].ParentOptionID == opt.ID {
					expand(j)
				}
			}
		}
	}
	for i, q := range kept {
		if q.IsRoot() {
			expand(i)
		}
	}

	idMap := make(map[string]string, len(ordered))
	for i, q := range ordered {
		idMap[q.ID] = fmt.Sprintf("q%03d", i+1)
	}

	out := make([]model.Question, len(ordered))
	for i, q := range ordered {
		q.ID = idMap[q.ID]
		if q.ParentID != "" {
			q.ParentID = idMap[q.ParentID]
		}
		out[i] = q
	}
	return out
}

func childrenOf(questions []model.Question) map[string][]model.Question {
	children := make(map[string][]model.Question)
	for _, q := range questions {
		if !q.IsRoot() {
			children[q.ParentID] = append(children[q.ParentID], q)
		}
	}
	return children
}
