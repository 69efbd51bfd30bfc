package routes

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/formdesk/formdesk/app"
	"github.com/formdesk/formdesk/hierarchy"
	"github.com/formdesk/formdesk/httpx"
	"github.com/formdesk/formdesk/log"
	"github.com/formdesk/formdesk/model"
	"github.com/formdesk/formdesk/routes/middlewares"
)

type formBody struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Questions   []model.Question `json:"questions"`
	Version     int              `json:"version"`
}

func (body formBody) validate(w http.ResponseWriter) bool {
	if strings.TrimSpace(body.Name) == "" || len(body.Questions) == 0 {
		httpx.LogStatusMsg(w, http.StatusBadRequest, log.DebugLevel, "form.validate",
			"name and questions are required")
		return false
	}
	if _, err := hierarchy.NewIndex(body.Questions); err != nil {
		httpx.LogStatusMsg(w, http.StatusBadRequest, log.DebugLevel, "form.validate.hierarchy",
			"%s", err)
		return false
	}
	return true
}

func CreateForm(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := formBody{}
		err := render.DecodeJSON(r.Body, &body)
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.parse_body")
			return
		}
		if !body.validate(w) {
			return
		}

		p, _ := middlewares.PrincipalFrom(r)

		form := model.Form{
			ID:          uuid.NewString(),
			Name:        body.Name,
			Description: body.Description,
			Questions:   hierarchy.Canonicalize(body.Questions),
			CreatedBy:   p.ID,
			CreatedAt:   time.Now().UnixMilli(),
			Version:     1,
		}
		form.UpdatedAt = form.CreatedAt

		questionsJson, err := json.Marshal(form.Questions)
		if err != nil {
			httpx.LogInternalError(w, "form.marshal_questions", err)
			return
		}

		_, err = app.ExecContext(r.Context(), `
			INSERT INTO form (id, name, description, questions, created_by, created_at, updated_at, version)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			form.ID,
			form.Name,
			form.Description,
			string(questionsJson),
			form.CreatedBy,
			form.CreatedAt,
			form.UpdatedAt,
			form.Version,
		)
		if err != nil {
			httpx.LogInternalError(w, "db.insert_form", err)
			return
		}

		w.WriteHeader(http.StatusCreated)
		render.JSON(w, r, form)
	}
}

func ListForms(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, _ := middlewares.PrincipalFrom(r)

		query := `
			SELECT id, name, description, questions, created_by, created_at, updated_at, version
			FROM form`
		var args []any
		if !p.IsAdmin() {
			query += " WHERE created_by = ?"
			args = append(args, p.ID)
		}
		query += " ORDER BY updated_at DESC"

		rows, err := app.QueryContext(r.Context(), query, args...)
		if err != nil {
			httpx.LogInternalError(w, "db.get_forms", err)
			return
		}
		defer rows.Close()

		forms := []model.Form{}
		for rows.Next() {
			form, err := scanForm(rows)
			if err != nil {
				httpx.LogInternalError(w, "db.get_forms.scan", err)
				return
			}
			forms = append(forms, form)
		}

		render.JSON(w, r, map[string]any{
			"forms": forms,
		})
	}
}

func GetForm(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		formId := chi.URLParam(r, "id")
		p, _ := middlewares.PrincipalFrom(r)

		form, err := loadForm(r.Context(), app, formId, p)
		if errors.Is(err, sql.ErrNoRows) {
			httpx.LogNotFound(w, "get_form", formId)
			return
		}
		if err != nil {
			httpx.LogInternalError(w, "db.get_form", err)
			return
		}

		render.JSON(w, r, form)
	}
}

func UpdateForm(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		formId := chi.URLParam(r, "id")

		body := formBody{}
		err := render.DecodeJSON(r.Body, &body)
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.parse_body")
			return
		}
		if !body.validate(w) {
			return
		}

		questions := hierarchy.Canonicalize(body.Questions)
		questionsJson, err := json.Marshal(questions)
		if err != nil {
			httpx.LogInternalError(w, "form.marshal_questions", err)
			return
		}

		res, err := app.ExecContext(r.Context(), `
			UPDATE form
			SET
				name = ?,
				description = ?,
				questions = ?,
				updated_at = ?,
				version = version+1
			WHERE	id = ?
				AND version = ?`,
			body.Name,
			body.Description,
			string(questionsJson),
			time.Now().UnixMilli(),
			formId,
			body.Version,
		)
		if err != nil {
			httpx.LogInternalError(w, "db.update_form", err)
			return
		}
		// optimistic lock
		n, err := res.RowsAffected()
		if err != nil {
			httpx.LogInternalError(w, "db.update_form.verify", err)
			return
		}
		if n < 1 {
			var exists bool
			err = app.QueryRowContext(r.Context(),
				"SELECT 1 FROM form WHERE id = ?", formId,
			).Scan(&exists)
			if errors.Is(err, sql.ErrNoRows) {
				httpx.LogNotFound(w, "update_form", formId)
				return
			}
			if err != nil {
				httpx.LogInternalError(w, "db.update_form.verify", err)
				return
			}
			httpx.LogStatus(w, http.StatusConflict, log.DebugLevel, "db.update_form.verify.conflict")
			return
		}

		form, err := loadAnyForm(r.Context(), app, formId)
		if err != nil {
			httpx.LogInternalError(w, "db.get_form", err)
			return
		}
		render.JSON(w, r, form)
	}
}

func DeleteForm(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		formId := chi.URLParam(r, "id")

		tx, err := app.BeginTx(r.Context(), nil)
		if err != nil {
			httpx.LogInternalError(w, "db.begin_tx", err)
			return
		}
		defer tx.Rollback()

		var exists bool
		err = tx.QueryRowContext(r.Context(),
			"SELECT 1 FROM form WHERE id = ?", formId,
		).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			httpx.LogNotFound(w, "delete_form", formId)
			return
		}
		if err != nil {
			httpx.LogInternalError(w, "db.delete_form.get", err)
			return
		}

		// responses reference the form: both deletions commit or neither does
		_, err = tx.ExecContext(r.Context(), `
			DELETE FROM response
			WHERE form_id = ?`,
			formId,
		)
		if err != nil {
			httpx.LogInternalError(w, "db.delete_form.responses", err)
			return
		}

		_, err = tx.ExecContext(r.Context(), `
			DELETE FROM form WHERE id = ?`,
			formId,
		)
		if err != nil {
			httpx.LogInternalError(w, "db.delete_form", err)
			return
		}

		err = tx.Commit()
		if err != nil {
			httpx.LogInternalError(w, "db.delete_form.commit", err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func GetFormResponses(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		formId := chi.URLParam(r, "id")

		responses, err := queryFormResponses(r.Context(), app, formId)
		if err != nil {
			httpx.LogInternalError(w, "db.get_responses", err)
			return
		}

		render.JSON(w, r, map[string]any{
			"responses": responses,
		})
	}
}

// loadForm fetches one form, scoped to the caller: non-admins only see forms
// they created.
func loadForm(ctx context.Context, app app.App, formId string, p model.Principal) (model.Form, error) {
	query := `
		SELECT id, name, description, questions, created_by, created_at, updated_at, version
		FROM form
		WHERE id = ?`
	args := []any{formId}
	if !p.IsAdmin() {
		query += " AND created_by = ?"
		args = append(args, p.ID)
	}

	return scanForm(app.QueryRowContext(ctx, query, args...))
}

// loadAnyForm fetches one form regardless of ownership, for the fill-out flow.
func loadAnyForm(ctx context.Context, app app.App, formId string) (model.Form, error) {
	return loadForm(ctx, app, formId, model.Principal{Role: model.RoleAdmin})
}

type scanner interface {
	Scan(dest ...any) error
}

func scanForm(row scanner) (form model.Form, err error) {
	var questionsJson string
	err = row.Scan(
		&form.ID, &form.Name, &form.Description, &questionsJson,
		&form.CreatedBy, &form.CreatedAt, &form.UpdatedAt, &form.Version,
	)
	if err != nil {
		return
	}

	err = json.Unmarshal([]byte(questionsJson), &form.Questions)
	return
}
