package routes

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/formdesk/formdesk/app"
	"github.com/formdesk/formdesk/httpx"
	"github.com/formdesk/formdesk/log"
	"github.com/formdesk/formdesk/model"
	"github.com/formdesk/formdesk/routes/middlewares"
)

type responseBody struct {
	FormID         string                   `json:"formId"`
	FormVersion    int                      `json:"formVersion"`
	Responses      []model.QuestionResponse `json:"responses"`
	UpdatedOffline bool                     `json:"updatedOffline"`
	CreatedAt      int64                    `json:"createdAt,omitempty"`
}

func CreateResponse(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := responseBody{}
		err := render.DecodeJSON(r.Body, &body)
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.parse_body")
			return
		}

		if body.FormID == "" || len(body.Responses) == 0 {
			httpx.LogStatusMsg(w, http.StatusBadRequest, log.DebugLevel, "response.validate",
				"form ID and responses are required")
			return
		}
		if body.FormVersion == 0 {
			body.FormVersion = 1
		}

		responsesJson, err := json.Marshal(body.Responses)
		if err != nil {
			httpx.LogInternalError(w, "response.marshal", err)
			return
		}

		p, _ := middlewares.PrincipalFrom(r)
		responseId := uuid.NewString()

		_, err = app.ExecContext(r.Context(), `
			INSERT INTO response (id, form_id, form_version, responses, user_id, created_at, updated_offline)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			responseId,
			body.FormID,
			body.FormVersion,
			string(responsesJson),
			p.ID,
			time.Now().UnixMilli(),
			body.UpdatedOffline,
		)
		if err != nil {
			httpx.LogInternalError(w, "db.insert_response", err)
			return
		}

		w.WriteHeader(http.StatusCreated)
		render.JSON(w, r, map[string]any{
			"id": responseId,
		})
	}
}

// UpdateResponse replaces the answers of an existing response in place,
// keeping its id, respondent and creation time. Owners and admins only;
// anyone else gets a 404, indistinguishable from a missing row.
func UpdateResponse(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responseId := chi.URLParam(r, "id")

		body := responseBody{}
		err := render.DecodeJSON(r.Body, &body)
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.parse_body")
			return
		}
		if len(body.Responses) == 0 {
			httpx.LogStatusMsg(w, http.StatusBadRequest, log.DebugLevel, "response.validate",
				"responses are required")
			return
		}

		responsesJson, err := json.Marshal(body.Responses)
		if err != nil {
			httpx.LogInternalError(w, "response.marshal", err)
			return
		}

		p, _ := middlewares.PrincipalFrom(r)

		query := `
			UPDATE response
			SET
				responses = ?,
				form_version = ?,
				updated_offline = ?
			WHERE id = ?`
		args := []any{string(responsesJson), body.FormVersion, body.UpdatedOffline, responseId}
		if !p.IsAdmin() {
			query += " AND user_id = ?"
			args = append(args, p.ID)
		}

		res, err := app.ExecContext(r.Context(), query, args...)
		if err != nil {
			httpx.LogInternalError(w, "db.update_response", err)
			return
		}
		n, err := res.RowsAffected()
		if err != nil {
			httpx.LogInternalError(w, "db.update_response.verify", err)
			return
		}
		if n < 1 {
			httpx.LogNotFound(w, "update_response", responseId)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func DeleteResponse(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responseId := chi.URLParam(r, "id")
		p, _ := middlewares.PrincipalFrom(r)

		query := "DELETE FROM response WHERE id = ?"
		args := []any{responseId}
		if !p.IsAdmin() {
			query += " AND user_id = ?"
			args = append(args, p.ID)
		}

		res, err := app.ExecContext(r.Context(), query, args...)
		if err != nil {
			httpx.LogInternalError(w, "db.delete_response", err)
			return
		}
		n, err := res.RowsAffected()
		if err != nil {
			httpx.LogInternalError(w, "db.delete_response.verify", err)
			return
		}
		if n < 1 {
			// not-found also covers "not yours": existence is not leaked
			httpx.LogNotFound(w, "delete_response", responseId)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// ImportResponses inserts a batch of offline-collected responses in a single
// transaction: one malformed entry aborts the whole import.
func ImportResponses(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var entries []responseBody
		err := render.DecodeJSON(r.Body, &entries)
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.parse_body")
			return
		}
		if len(entries) == 0 {
			httpx.LogStatusMsg(w, http.StatusBadRequest, log.DebugLevel, "import.validate",
				"no entries to import")
			return
		}

		p, _ := middlewares.PrincipalFrom(r)

		n, ok := insertResponseBatch(w, r, app, entries, p)
		if !ok {
			return
		}

		render.JSON(w, r, map[string]any{
			"imported": n,
		})
	}
}

func insertResponseBatch(w http.ResponseWriter, r *http.Request, app app.App, entries []responseBody, p model.Principal) (int, bool) {
	tx, err := app.BeginTx(r.Context(), nil)
	if err != nil {
		httpx.LogInternalError(w, "db.begin_tx", err)
		return 0, false
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(r.Context(), `
		INSERT INTO response (id, form_id, form_version, responses, user_id, created_at, updated_offline)
		VALUES (?, ?, ?, ?, ?, ?, 1)`)
	if err != nil {
		httpx.LogInternalError(w, "db.import.prepare", err)
		return 0, false
	}
	defer stmt.Close()

	for i, entry := range entries {
		if entry.FormID == "" || len(entry.Responses) == 0 {
			httpx.LogStatusMsg(w, http.StatusBadRequest, log.DebugLevel, "import.validate",
				"entry %d: form ID and responses are required", i+1)
			return 0, false
		}
		if entry.FormVersion == 0 {
			entry.FormVersion = 1
		}
		createdAt := entry.CreatedAt
		if createdAt == 0 {
			createdAt = time.Now().UnixMilli()
		}

		responsesJson, err := json.Marshal(entry.Responses)
		if err != nil {
			httpx.LogInternalError(w, "import.marshal", err)
			return 0, false
		}

		_, err = stmt.ExecContext(r.Context(),
			uuid.NewString(),
			entry.FormID,
			entry.FormVersion,
			string(responsesJson),
			p.ID,
			createdAt,
		)
		if err != nil {
			httpx.LogInternalError(w, "db.import.insert", err)
			return 0, false
		}
	}

	err = tx.Commit()
	if err != nil {
		httpx.LogInternalError(w, "db.import.commit", err)
		return 0, false
	}

	return len(entries), true
}

func queryFormResponses(ctx context.Context, app app.App, formId string) ([]model.FormResponse, error) {
	rows, err := app.QueryContext(ctx, `
		SELECT
			r.id, r.form_id, r.form_version, r.responses,
			r.user_id, r.created_at, r.updated_offline,
			u.username
		FROM response r
		LEFT JOIN user u ON (r.user_id = u.id)
		WHERE r.form_id = ?
		ORDER BY r.created_at DESC`,
		formId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	responses := []model.FormResponse{}
	for rows.Next() {
		resp := model.FormResponse{}
		var responsesJson string
		var username sql.NullString

		err = rows.Scan(
			&resp.ID, &resp.FormID, &resp.FormVersion, &responsesJson,
			&resp.UserID, &resp.CreatedAt, &resp.UpdatedOffline,
			&username,
		)
		if err != nil {
			return nil, err
		}

		err = json.Unmarshal([]byte(responsesJson), &resp.Responses)
		if err != nil {
			return nil, err
		}
		resp.Username = username.String

		responses = append(responses, resp)
	}
	return responses, rows.Err()
}
