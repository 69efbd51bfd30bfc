package routes

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/formdesk/formdesk/app"
	"github.com/formdesk/formdesk/hierarchy"
	"github.com/formdesk/formdesk/httpx"
	"github.com/formdesk/formdesk/log"
)

// FillGetForm serves a form for fill-out. Unlike GetForm this is not scoped
// to the form's owner: anyone signed in can respond to any form.
func FillGetForm(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		formId := chi.URLParam(r, "id")

		form, err := loadAnyForm(r.Context(), app, formId)
		if errors.Is(err, sql.ErrNoRows) {
			httpx.LogNotFound(w, "fill.get_form", formId)
			return
		}
		if err != nil {
			httpx.LogInternalError(w, "db.get_form", err)
			return
		}

		render.JSON(w, r, form)
	}
}

// VisibleQuestions resolves which questions the respondent should currently
// see, given the answers entered so far.
func VisibleQuestions(app app.App) http.HandlerFunc {
	type visibleBody struct {
		Answers hierarchy.Answers `json:"answers"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		formId := chi.URLParam(r, "id")

		body := visibleBody{}
		err := render.DecodeJSON(r.Body, &body)
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.parse_body")
			return
		}

		form, err := loadAnyForm(r.Context(), app, formId)
		if errors.Is(err, sql.ErrNoRows) {
			httpx.LogNotFound(w, "fill.get_form", formId)
			return
		}
		if err != nil {
			httpx.LogInternalError(w, "db.get_form", err)
			return
		}

		render.JSON(w, r, map[string]any{
			"questions": hierarchy.Visible(form.Questions, body.Answers),
		})
	}
}
