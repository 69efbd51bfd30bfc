package routes_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formdesk/formdesk/app"
	"github.com/formdesk/formdesk/config"
	"github.com/formdesk/formdesk/database"
	"github.com/formdesk/formdesk/httpx"
	"github.com/formdesk/formdesk/model"
	"github.com/formdesk/formdesk/routes"
)

func newTestServer(t *testing.T) http.Handler {
	t.Helper()

	cfg := config.Config{
		DBUrl:       filepath.Join(t.TempDir(), "formdesk.sqlite"),
		TokenSecret: "test-secret",
		TokenTTL:    time.Minute,
	}

	db, err := database.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return routes.Wire(app.App{
		DB:           db,
		BearerServer: httpx.NewBearerServer(db, cfg),
		Config:       cfg,
	})
}

func do(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("content-type", "application/json")
	if token != "" {
		req.Header.Set("authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func register(t *testing.T, h http.Handler, username string, role model.Role) string {
	t.Helper()

	w := do(t, h, "POST", "/api/auth/register", "", map[string]any{
		"username": username,
		"password": "s3cret!",
		"role":     role,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	body := decode[struct {
		Token map[string]any `json:"token"`
	}](t, w)
	token, _ := body.Token["access_token"].(string)
	require.NotEmpty(t, token)
	return token
}

func transportForm() map[string]any {
	return map[string]any{
		"name":        "Commute survey",
		"description": "How do you get to work?",
		"questions": []model.Question{
			{ID: "tmp-1", Text: "Transport?", Type: model.QuestionSelect,
				Options: []model.Option{{ID: "car", Text: "Car"}, {ID: "bike", Text: "Bike"}}},
			{ID: "tmp-2", Text: "Car brand?", Type: model.QuestionText,
				ParentID: "tmp-1", ParentOptionID: "car"},
			{ID: "tmp-3", Text: "Minutes?", Type: model.QuestionNumber},
		},
	}
}

func createForm(t *testing.T, h http.Handler, token string) model.Form {
	t.Helper()

	w := do(t, h, "POST", "/api/forms", token, transportForm())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[model.Form](t, w)
}

func TestAuthFlow(t *testing.T) {
	h := newTestServer(t)

	w := do(t, h, "GET", "/api/forms", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token := register(t, h, "alice", model.RoleUser)
	w = do(t, h, "GET", "/api/forms", token, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// duplicate username
	w = do(t, h, "POST", "/api/auth/register", "", map[string]any{
		"username": "alice",
		"password": "other",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// wrong password
	w = do(t, h, "POST", "/api/auth/login", "", map[string]any{
		"username": "alice",
		"password": "nope",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, "POST", "/api/auth/login", "", map[string]any{
		"username": "alice",
		"password": "s3cret!",
	})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[struct {
		User model.User `json:"user"`
	}](t, w)
	assert.Equal(t, "alice", body.User.Username)
	assert.Equal(t, model.RoleUser, body.User.Role)
}

func TestCreateFormCanonicalizesQuestions(t *testing.T) {
	h := newTestServer(t)
	admin := register(t, h, "admin", model.RoleAdmin)

	form := createForm(t, h, admin)
	require.Len(t, form.Questions, 3)
	assert.Equal(t, 1, form.Version)

	assert.Equal(t, "q001", form.Questions[0].ID)
	assert.Equal(t, "q002", form.Questions[1].ID)
	assert.Equal(t, "Car brand?", form.Questions[1].Text)
	assert.Equal(t, "q001", form.Questions[1].ParentID)
	assert.Equal(t, "car", form.Questions[1].ParentOptionID)
	assert.Equal(t, "q003", form.Questions[2].ID)
}

func TestCreateFormValidation(t *testing.T) {
	h := newTestServer(t)
	admin := register(t, h, "admin", model.RoleAdmin)

	w := do(t, h, "POST", "/api/forms", admin, map[string]any{
		"name":      "",
		"questions": transportForm()["questions"],
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, "POST", "/api/forms", admin, map[string]any{
		"name":      "No questions",
		"questions": []model.Question{},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// dangling parent reference is rejected, not silently dropped
	w = do(t, h, "POST", "/api/forms", admin, map[string]any{
		"name": "Broken",
		"questions": []model.Question{
			{ID: "a", Text: "sub", Type: model.QuestionText, ParentID: "gone", ParentOptionID: "x"},
		},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFormAuthorization(t *testing.T) {
	h := newTestServer(t)
	admin := register(t, h, "admin", model.RoleAdmin)
	user := register(t, h, "bob", model.RoleUser)

	form := createForm(t, h, admin)

	// non-admins cannot create forms
	w := do(t, h, "POST", "/api/forms", user, transportForm())
	assert.Equal(t, http.StatusForbidden, w.Code)

	// non-admins don't see other users' forms in the management surface
	w = do(t, h, "GET", "/api/forms", user, nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Forms []model.Form `json:"forms"`
	}](t, w)
	assert.Empty(t, list.Forms)

	w = do(t, h, "GET", "/api/forms/"+form.ID, user, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// ...but anyone signed in can fetch it for fill-out
	w = do(t, h, "GET", "/api/fill/"+form.ID, user, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, h, "GET", "/api/forms/"+form.ID, admin, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestUpdateFormOptimisticLock(t *testing.T) {
	h := newTestServer(t)
	admin := register(t, h, "admin", model.RoleAdmin)
	form := createForm(t, h, admin)

	update := transportForm()
	update["name"] = "Commute survey v2"
	update["version"] = form.Version

	w := do(t, h, "PUT", "/api/forms/"+form.ID, admin, update)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	updated := decode[model.Form](t, w)
	assert.Equal(t, 2, updated.Version)
	assert.Equal(t, "Commute survey v2", updated.Name)
	assert.Equal(t, form.CreatedAt, updated.CreatedAt)

	// same stale version again: conflict
	w = do(t, h, "PUT", "/api/forms/"+form.ID, admin, update)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, h, "PUT", "/api/forms/does-not-exist", admin, update)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestVisibleQuestionsEndpoint(t *testing.T) {
	h := newTestServer(t)
	admin := register(t, h, "admin", model.RoleAdmin)
	user := register(t, h, "bob", model.RoleUser)
	form := createForm(t, h, admin)

	w := do(t, h, "POST", "/api/fill/"+form.ID+"/visible", user, map[string]any{
		"answers": map[string]any{},
	})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[struct {
		Questions []model.Question `json:"questions"`
	}](t, w)
	require.Len(t, body.Questions, 2) // both roots, no sub-question yet

	w = do(t, h, "POST", "/api/fill/"+form.ID+"/visible", user, map[string]any{
		"answers": map[string]any{"q001": "car"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	body = decode[struct {
		Questions []model.Question `json:"questions"`
	}](t, w)
	require.Len(t, body.Questions, 3)
	assert.Equal(t, "Car brand?", body.Questions[1].Text)
}

func submitResponse(t *testing.T, h http.Handler, token string, form model.Form) string {
	t.Helper()

	w := do(t, h, "POST", "/api/responses", token, map[string]any{
		"formId":      form.ID,
		"formVersion": form.Version,
		"responses": []map[string]any{
			{"questionId": "q001", "value": "car"},
			{"questionId": "q002", "value": "Fiat"},
			{"questionId": "q003", "value": 25},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[struct {
		ID string `json:"id"`
	}](t, w).ID
}

func listResponses(t *testing.T, h http.Handler, token string, formId string) []model.FormResponse {
	t.Helper()

	w := do(t, h, "GET", "/api/forms/"+formId+"/responses", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	return decode[struct {
		Responses []model.FormResponse `json:"responses"`
	}](t, w).Responses
}

func TestResponseLifecycle(t *testing.T) {
	h := newTestServer(t)
	admin := register(t, h, "admin", model.RoleAdmin)
	bob := register(t, h, "bob", model.RoleUser)
	eve := register(t, h, "eve", model.RoleUser)

	form := createForm(t, h, admin)
	responseId := submitResponse(t, h, bob, form)

	got := listResponses(t, h, admin, form.ID)
	require.Len(t, got, 1)
	assert.Equal(t, "bob", got[0].Username)
	assert.Equal(t, form.Version, got[0].FormVersion)
	assert.False(t, got[0].UpdatedOffline)

	// someone else's delete reads as not-found, not forbidden
	w := do(t, h, "DELETE", "/api/responses/"+responseId, eve, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	require.Len(t, listResponses(t, h, admin, form.ID), 1)

	// owner edits in place: same id, fresh answers
	w = do(t, h, "PUT", "/api/responses/"+responseId, bob, map[string]any{
		"formVersion": form.Version,
		"responses": []map[string]any{
			{"questionId": "q001", "value": "bike"},
		},
	})
	assert.Equal(t, http.StatusNoContent, w.Code)
	got = listResponses(t, h, admin, form.ID)
	require.Len(t, got, 1)
	assert.Equal(t, responseId, got[0].ID)
	require.Len(t, got[0].Responses, 1)

	// another user cannot edit it either
	w = do(t, h, "PUT", "/api/responses/"+responseId, eve, map[string]any{
		"formVersion": form.Version,
		"responses":   []map[string]any{{"questionId": "q001", "value": "car"}},
	})
	assert.Equal(t, http.StatusNotFound, w.Code)

	// owner can delete their own
	w = do(t, h, "DELETE", "/api/responses/"+responseId, bob, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, listResponses(t, h, admin, form.ID))

	// admins can delete anyone's
	responseId = submitResponse(t, h, bob, form)
	w = do(t, h, "DELETE", "/api/responses/"+responseId, admin, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, listResponses(t, h, admin, form.ID))
}

func TestDeleteFormCascadesToResponses(t *testing.T) {
	h := newTestServer(t)
	admin := register(t, h, "admin", model.RoleAdmin)
	bob := register(t, h, "bob", model.RoleUser)

	form := createForm(t, h, admin)
	submitResponse(t, h, bob, form)
	submitResponse(t, h, bob, form)
	require.Len(t, listResponses(t, h, admin, form.ID), 2)

	w := do(t, h, "DELETE", "/api/forms/"+form.ID, admin, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	assert.Empty(t, listResponses(t, h, admin, form.ID))
	w = do(t, h, "GET", "/api/forms/"+form.ID, admin, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, h, "DELETE", "/api/forms/"+form.ID, admin, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestImportBatchIsAtomic(t *testing.T) {
	h := newTestServer(t)
	admin := register(t, h, "admin", model.RoleAdmin)
	bob := register(t, h, "bob", model.RoleUser)
	form := createForm(t, h, admin)

	entry := func(ok bool) map[string]any {
		e := map[string]any{
			"formId":      form.ID,
			"formVersion": form.Version,
			"responses":   []map[string]any{{"questionId": "q001", "value": "car"}},
			"createdAt":   time.Now().UnixMilli(),
		}
		if !ok {
			delete(e, "formId")
		}
		return e
	}

	w := do(t, h, "POST", "/api/responses/import", bob, []map[string]any{
		entry(true), entry(true), entry(false), entry(true), entry(true),
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, listResponses(t, h, admin, form.ID))

	w = do(t, h, "POST", "/api/responses/import", bob, []map[string]any{
		entry(true), entry(true),
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	got := listResponses(t, h, admin, form.ID)
	require.Len(t, got, 2)
	assert.True(t, got[0].UpdatedOffline)
	assert.True(t, got[1].UpdatedOffline)
}

func TestExportAndReimportCSV(t *testing.T) {
	h := newTestServer(t)
	admin := register(t, h, "admin", model.RoleAdmin)
	bob := register(t, h, "bob", model.RoleUser)
	form := createForm(t, h, admin)
	submitResponse(t, h, bob, form)

	w := do(t, h, "GET", "/api/forms/"+form.ID+"/export", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("content-type"), "text/csv")

	sheet := w.Body.String()
	lines := strings.Split(strings.TrimSpace(sheet), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "Date,Transport?,Minutes?", strings.TrimSpace(lines[0]))
	assert.Contains(t, lines[1], "Car") // option id resolved to its text

	// non-owners cannot export
	w = do(t, h, "GET", "/api/forms/"+form.ID+"/export", bob, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// unsupported format
	w = do(t, h, "GET", "/api/forms/"+form.ID+"/export?format=xlsx", admin, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// the exported sheet re-imports as offline responses
	req := httptest.NewRequest("POST", "/api/forms/"+form.ID+"/responses/import", strings.NewReader(sheet))
	req.Header.Set("content-type", "text/csv")
	req.Header.Set("authorization", "Bearer "+admin)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	got := listResponses(t, h, admin, form.ID)
	require.Len(t, got, 2)
}

func TestJSONExport(t *testing.T) {
	h := newTestServer(t)
	admin := register(t, h, "admin", model.RoleAdmin)
	bob := register(t, h, "bob", model.RoleUser)
	form := createForm(t, h, admin)
	submitResponse(t, h, bob, form)

	w := do(t, h, "GET", "/api/forms/"+form.ID+"/export?format=json", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)

	doc := decode[struct {
		Responses []model.FormResponse `json:"responses"`
	}](t, w)
	require.Len(t, doc.Responses, 1)
	assert.Equal(t, form.ID, doc.Responses[0].FormID)
}
