package hierarchy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formdesk/formdesk/model"
)

func selectQuestion(id, text string, optionIDs ...string) model.Question {
	q := model.Question{ID: id, Text: text, Type: model.QuestionSelect}
	for _, o := range optionIDs {
		q.Options = append(q.Options, model.Option{ID: o, Text: "option " + o})
	}
	return q
}

func subQuestion(id, text, parentID, parentOptionID string) model.Question {
	return model.Question{
		ID:             id,
		Text:           text,
		Type:           model.QuestionText,
		ParentID:       parentID,
		ParentOptionID: parentOptionID,
	}
}

func questionIDs(qs []model.Question) []string {
	ids := make([]string, len(qs))
	for i, q := range qs {
		ids[i] = q.ID
	}
	return ids
}

func TestNewIndexValid(t *testing.T) {
	qs := []model.Question{
		selectQuestion("q1", "Transport?", "car", "bike"),
		subQuestion("q2", "Which brand?", "q1", "car"),
		{ID: "q3", Text: "Age?", Type: model.QuestionNumber},
	}

	ix, err := NewIndex(qs)
	require.NoError(t, err)

	q, ok := ix.Question("q2")
	assert.True(t, ok)
	assert.Equal(t, "Which brand?", q.Text)

	assert.Equal(t, []string{"q2"}, questionIDs(ix.Children("q1", "car")))
	assert.Empty(t, ix.Children("q1", "bike"))
	assert.Equal(t, []string{"q1", "q3"}, questionIDs(ix.Roots()))
}

func TestNewIndexRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		qs   []model.Question
	}{
		{"duplicate id", []model.Question{
			{ID: "q1", Text: "a", Type: model.QuestionText},
			{ID: "q1", Text: "b", Type: model.QuestionText},
		}},
		{"dangling parent", []model.Question{
			subQuestion("q1", "sub", "nope", "opt"),
		}},
		{"option not owned by parent", []model.Question{
			selectQuestion("q1", "root", "a"),
			subQuestion("q2", "sub", "q1", "b"),
		}},
		{"options on text question", []model.Question{
			{ID: "q1", Text: "a", Type: model.QuestionText, Options: []model.Option{{ID: "x", Text: "x"}}},
		}},
		{"select without options", []model.Question{
			{ID: "q1", Text: "a", Type: model.QuestionSelect},
		}},
		{"parent option without parent", []model.Question{
			{ID: "q1", Text: "a", Type: model.QuestionText, ParentOptionID: "x"},
		}},
		{"unknown type", []model.Question{
			{ID: "q1", Text: "a", Type: "rating"},
		}},
		{"cycle", []model.Question{
			{ID: "q1", Text: "a", Type: model.QuestionSelect,
				Options:  []model.Option{{ID: "o1", Text: "o1"}},
				ParentID: "q2", ParentOptionID: "o2"},
			{ID: "q2", Text: "b", Type: model.QuestionSelect,
				Options:  []model.Option{{ID: "o2", Text: "o2"}},
				ParentID: "q1", ParentOptionID: "o1"},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewIndex(tt.qs)
			assert.Error(t, err)
		})
	}
}

func TestVisibleSelect(t *testing.T) {
	qs := []model.Question{
		selectQuestion("Q", "Transport?", "A", "B"),
		subQuestion("SA", "Car brand?", "Q", "A"),
		subQuestion("SB", "Bike brand?", "Q", "B"),
	}

	assert.Equal(t, []string{"Q"},
		questionIDs(Visible(qs, Answers{})))

	assert.Equal(t, []string{"Q", "SA"},
		questionIDs(Visible(qs, Answers{"Q": model.OptionValue("A")})))

	assert.Equal(t, []string{"Q", "SB"},
		questionIDs(Visible(qs, Answers{"Q": model.OptionValue("B")})))
}

func TestVisibleMultiselect(t *testing.T) {
	qs := []model.Question{
		{ID: "Q", Text: "Toppings?", Type: model.QuestionMultiselect,
			Options: []model.Option{{ID: "A", Text: "ham"}, {ID: "B", Text: "olives"}}},
		subQuestion("SA", "How much ham?", "Q", "A"),
		subQuestion("SB", "Pitted olives?", "Q", "B"),
	}

	assert.Equal(t, []string{"Q", "SA", "SB"},
		questionIDs(Visible(qs, Answers{"Q": model.OptionsValue("A", "B")})))

	assert.Equal(t, []string{"Q", "SB"},
		questionIDs(Visible(qs, Answers{"Q": model.OptionsValue("B")})))
}

func TestVisibleRecursesNestedSubQuestions(t *testing.T) {
	qs := []model.Question{
		selectQuestion("Q", "Level 0", "A"),
		{ID: "S1", Text: "Level 1", Type: model.QuestionSelect,
			Options:  []model.Option{{ID: "X", Text: "x"}},
			ParentID: "Q", ParentOptionID: "A"},
		subQuestion("S2", "Level 2", "S1", "X"),
	}

	// answering only the root keeps the grandchild hidden
	assert.Equal(t, []string{"Q", "S1"},
		questionIDs(Visible(qs, Answers{"Q": model.OptionValue("A")})))

	assert.Equal(t, []string{"Q", "S1", "S2"},
		questionIDs(Visible(qs, Answers{
			"Q":  model.OptionValue("A"),
			"S1": model.OptionValue("X"),
		})))
}

func TestVisibleIgnoresMalformedReferences(t *testing.T) {
	qs := []model.Question{
		selectQuestion("Q", "Transport?", "A"),
		subQuestion("S", "sub", "Q", "missing-option"),
	}

	assert.Equal(t, []string{"Q"},
		questionIDs(Visible(qs, Answers{"Q": model.OptionValue("A")})))

	// null answers reveal nothing either
	assert.Equal(t, []string{"Q"},
		questionIDs(Visible(qs, Answers{"Q": model.NullValue()})))
}

func TestCanonicalizeOrderAndRenumbering(t *testing.T) {
	qs := []model.Question{
		selectQuestion("tmp-1", "Transport?", "car", "bike"),
		{ID: "tmp-4", Text: "Age?", Type: model.QuestionNumber},
		subQuestion("tmp-3", "Bike brand?", "tmp-1", "bike"),
		subQuestion("tmp-2", "Car brand?", "tmp-1", "car"),
	}

	got := Canonicalize(qs)
	require.Len(t, got, 4)

	// depth-first, children grouped under the parent in option order
	assert.Equal(t, []string{"q001", "q002", "q003", "q004"}, questionIDs(got))
	assert.Equal(t, "Transport?", got[0].Text)
	assert.Equal(t, "Car brand?", got[1].Text)
	assert.Equal(t, "Bike brand?", got[2].Text)
	assert.Equal(t, "Age?", got[3].Text)

	// parent references remapped, option references untouched
	assert.Equal(t, "q001", got[1].ParentID)
	assert.Equal(t, "car", got[1].ParentOptionID)
	assert.Equal(t, "q001", got[2].ParentID)
	assert.Equal(t, "bike", got[2].ParentOptionID)
}

func TestCanonicalizeRecursesNestedSubQuestions(t *testing.T) {
	qs := []model.Question{
		selectQuestion("a", "Level 0", "o1"),
		{ID: "b", Text: "Level 1", Type: model.QuestionSelect,
			Options:  []model.Option{{ID: "o2", Text: "x"}},
			ParentID: "a", ParentOptionID: "o1"},
		subQuestion("c", "Level 2", "b", "o2"),
	}

	got := Canonicalize(qs)
	require.Len(t, got, 3)
	assert.Equal(t, "q002", got[2].ParentID)
	assert.Equal(t, "o2", got[2].ParentOptionID)
}

func TestCanonicalizeDropsEmptyTextAndOrphans(t *testing.T) {
	qs := []model.Question{
		selectQuestion("a", "Transport?", "car"),
		{ID: "blank", Text: "   ", Type: model.QuestionText},
		subQuestion("orphan", "whose?", "gone", "car"),
		subQuestion("b", "Car brand?", "a", "car"),
	}

	got := Canonicalize(qs)
	require.Len(t, got, 2)
	assert.Equal(t, []string{"q001", "q002"}, questionIDs(got))
	assert.Equal(t, "Car brand?", got[1].Text)
}

func TestCanonicalizeChildOfDroppedParentIsDropped(t *testing.T) {
	qs := []model.Question{
		selectQuestion("a", "", "o1"), // blank text: dropped
		subQuestion("b", "child", "a", "o1"),
	}

	assert.Empty(t, Canonicalize(qs))
}

func TestCanonicalizeIsIdempotent(t *testing.T) {
	qs := []model.Question{
		selectQuestion("z", "Transport?", "car", "bike"),
		subQuestion("y", "Car brand?", "z", "car"),
		{ID: "x", Text: "Age?", Type: model.QuestionNumber},
		subQuestion("w", "Bike brand?", "z", "bike"),
	}

	once := Canonicalize(qs)
	twice := Canonicalize(once)
	assert.Equal(t, once, twice)
}

func TestCanonicalizePreservesForestShape(t *testing.T) {
	qs := []model.Question{
		selectQuestion("r1", "Root 1", "a", "b"),
		subQuestion("s1", "Sub 1", "r1", "a"),
		subQuestion("s2", "Sub 2", "r1", "b"),
		{ID: "r2", Text: "Root 2", Type: model.QuestionBoolean},
	}

	got := Canonicalize(qs)
	require.Len(t, got, len(qs))

	// every child's new parentId resolves within the output
	_, err := NewIndex(got)
	assert.NoError(t, err)
}
