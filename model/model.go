package model

type QuestionType string

const (
	QuestionText        QuestionType = "text"
	QuestionNumber      QuestionType = "number"
	QuestionSelect      QuestionType = "select"
	QuestionMultiselect QuestionType = "multiselect"
	QuestionDate        QuestionType = "date"
	QuestionBoolean     QuestionType = "boolean"
)

func (t QuestionType) Valid() bool {
	switch t {
	case QuestionText, QuestionNumber, QuestionSelect, QuestionMultiselect, QuestionDate, QuestionBoolean:
		return true
	}
	return false
}

// HasOptions reports whether questions of this type carry selectable options.
func (t QuestionType) HasOptions() bool {
	return t == QuestionSelect || t == QuestionMultiselect
}

type Option struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Question is one entry of a form's flat question list. Sub-questions point
// back at their parent question and at the option that reveals them.
type Question struct {
	ID             string       `json:"id"`
	Text           string       `json:"text"`
	Type           QuestionType `json:"type"`
	Required       bool         `json:"required"`
	Options        []Option     `json:"options,omitempty"`
	ParentID       string       `json:"parentId,omitempty"`
	ParentOptionID string       `json:"parentOptionId,omitempty"`
}

func (q Question) IsRoot() bool {
	return q.ParentID == ""
}

func (q Question) Option(id string) (Option, bool) {
	for _, o := range q.Options {
		if o.ID == id {
			return o, true
		}
	}
	return Option{}, false
}

// Form timestamps cross the API boundary as epoch milliseconds.
type Form struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Questions   []Question `json:"questions"`
	CreatedBy   string     `json:"createdBy,omitempty"`
	CreatedAt   int64      `json:"createdAt"`
	UpdatedAt   int64      `json:"updatedAt"`
	Version     int        `json:"version"`
}

type QuestionResponse struct {
	QuestionID string `json:"questionId"`
	Value      Value  `json:"value"`
}

type FormResponse struct {
	ID             string             `json:"id"`
	FormID         string             `json:"formId"`
	FormVersion    int                `json:"formVersion"`
	Responses      []QuestionResponse `json:"responses"`
	CreatedAt      int64              `json:"createdAt"`
	UpdatedOffline bool               `json:"updatedOffline"`
	UserID         string             `json:"userId"`
	Username       string             `json:"username,omitempty"`
}

type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

type User struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	PasswordHash string `json:"-"`
	Role         Role   `json:"role"`
}

// Principal is the authenticated identity of the current request, carried in
// the request context instead of any ambient session state.
type Principal struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}
