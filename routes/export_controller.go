package routes

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/formdesk/formdesk/app"
	"github.com/formdesk/formdesk/export"
	"github.com/formdesk/formdesk/httpx"
	"github.com/formdesk/formdesk/log"
	"github.com/formdesk/formdesk/routes/middlewares"
)

var reNoIdent = regexp.MustCompile(`\W+`)

// ExportFormResponses streams a form's responses as a spreadsheet: one row
// per response, one column per root question, option ids resolved to their
// display text. `?format=json` switches to a JSON document.
func ExportFormResponses(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		formId := chi.URLParam(r, "id")
		p, _ := middlewares.PrincipalFrom(r)

		format := r.URL.Query().Get("format")
		if format == "" {
			format = export.FormatCSV
		}
		if format != export.FormatCSV && format != export.FormatJSON {
			httpx.LogStatusMsg(w, http.StatusBadRequest, log.DebugLevel, "export.format",
				"unsupported format %q", format)
			return
		}

		form, err := loadForm(r.Context(), app, formId, p)
		if errors.Is(err, sql.ErrNoRows) {
			httpx.LogNotFound(w, "export.get_form", formId)
			return
		}
		if err != nil {
			httpx.LogInternalError(w, "db.get_form", err)
			return
		}

		responses, err := queryFormResponses(r.Context(), app, formId)
		if err != nil {
			httpx.LogInternalError(w, "db.get_responses", err)
			return
		}

		filename := strings.Trim(reNoIdent.ReplaceAllLiteralString(strings.ToLower(form.Name), "_"), "_")
		if filename == "" {
			filename = "responses"
		}
		switch format {
		case export.FormatCSV:
			w.Header().Set("content-type", "text/csv; charset=utf-8")
			w.Header().Set("content-disposition", fmt.Sprintf("attachment; filename=%q", filename+".csv"))
		case export.FormatJSON:
			w.Header().Set("content-type", "application/json")
			w.Header().Set("content-disposition", fmt.Sprintf("attachment; filename=%q", filename+".json"))
		}

		exporter, err := export.NewExporter(form, w, format)
		if err != nil {
			httpx.LogInternalError(w, "export.init", err)
			return
		}
		for _, resp := range responses {
			if err := exporter.WriteResponse(resp); err != nil {
				// headers are gone already, log and bail out
				log.Errorf("export.write: %s", err)
				return
			}
		}
		if err := exporter.Finish(); err != nil {
			log.Errorf("export.finish: %s", err)
		}
	}
}

// ImportFormResponsesCSV re-imports a spreadsheet produced by
// ExportFormResponses as a batch of offline responses, all-or-nothing.
func ImportFormResponsesCSV(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		formId := chi.URLParam(r, "id")
		p, _ := middlewares.PrincipalFrom(r)

		form, err := loadForm(r.Context(), app, formId, p)
		if errors.Is(err, sql.ErrNoRows) {
			httpx.LogNotFound(w, "import.get_form", formId)
			return
		}
		if err != nil {
			httpx.LogInternalError(w, "db.get_form", err)
			return
		}

		parsed, err := export.ReadResponses(form, r.Body)
		if err != nil {
			httpx.LogStatusMsg(w, http.StatusBadRequest, log.DebugLevel, "import.parse",
				"%s", err)
			return
		}
		if len(parsed) == 0 {
			httpx.LogStatusMsg(w, http.StatusBadRequest, log.DebugLevel, "import.validate",
				"no entries to import")
			return
		}

		entries := make([]responseBody, len(parsed))
		for i, resp := range parsed {
			entries[i] = responseBody{
				FormID:      resp.FormID,
				FormVersion: resp.FormVersion,
				Responses:   resp.Responses,
				CreatedAt:   resp.CreatedAt,
			}
		}

		n, ok := insertResponseBatch(w, r, app, entries, p)
		if !ok {
			return
		}

		render.JSON(w, r, map[string]any{
			"imported": n,
		})
	}
}
