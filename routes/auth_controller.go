package routes

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/render"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/formdesk/formdesk/app"
	"github.com/formdesk/formdesk/httpx"
	"github.com/formdesk/formdesk/log"
	"github.com/formdesk/formdesk/model"
	"github.com/formdesk/formdesk/routes/middlewares"
)

type credentialsBody struct {
	Username string     `json:"username"`
	Password string     `json:"password"`
	Role     model.Role `json:"role,omitempty"`
}

func Register(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		creds := credentialsBody{}
		err := render.DecodeJSON(r.Body, &creds)
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "register.parse_body")
			return
		}

		if creds.Username == "" || creds.Password == "" {
			httpx.LogStatusMsg(w, http.StatusBadRequest, log.DebugLevel, "register.validate",
				"username and password are required")
			return
		}
		if creds.Role == "" {
			creds.Role = model.RoleUser
		}
		if creds.Role != model.RoleUser && creds.Role != model.RoleAdmin {
			httpx.LogStatusMsg(w, http.StatusBadRequest, log.DebugLevel, "register.validate",
				"unknown role %q", creds.Role)
			return
		}

		var existing string
		err = app.QueryRowContext(r.Context(),
			"SELECT id FROM user WHERE username = ?", creds.Username,
		).Scan(&existing)
		if err == nil {
			httpx.LogStatusMsg(w, http.StatusBadRequest, log.DebugLevel, "register.duplicate",
				"username already exists")
			return
		}
		if !errors.Is(err, sql.ErrNoRows) {
			httpx.LogInternalError(w, "db.get_user", err)
			return
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(creds.Password), bcrypt.DefaultCost)
		if err != nil {
			httpx.LogInternalError(w, "register.hash", err)
			return
		}

		user := model.User{
			ID:       uuid.NewString(),
			Username: creds.Username,
			Role:     creds.Role,
		}
		_, err = app.ExecContext(r.Context(), `
			INSERT INTO user (id, username, password_hash, role, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			user.ID,
			user.Username,
			string(hash),
			user.Role,
			time.Now().UnixMilli(),
		)
		if err != nil {
			httpx.LogInternalError(w, "db.insert_user", err)
			return
		}

		token, ok := issueToken(app, w, r, creds.Username, creds.Password)
		if !ok {
			return
		}

		w.WriteHeader(http.StatusCreated)
		render.JSON(w, r, map[string]any{
			"success": true,
			"user":    user,
			"token":   token,
		})
	}
}

func Login(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		creds := credentialsBody{}
		err := render.DecodeJSON(r.Body, &creds)
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "login.parse_body")
			return
		}
		if creds.Username == "" || creds.Password == "" {
			httpx.LogStatusMsg(w, http.StatusBadRequest, log.DebugLevel, "login.validate",
				"username and password are required")
			return
		}

		user := model.User{Username: creds.Username}
		err = app.QueryRowContext(r.Context(),
			"SELECT id, role FROM user WHERE username = ?", creds.Username,
		).Scan(&user.ID, &user.Role)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			httpx.LogInternalError(w, "db.get_user", err)
			return
		}

		token, ok := issueToken(app, w, r, creds.Username, creds.Password)
		if !ok {
			return
		}

		render.JSON(w, r, map[string]any{
			"success": true,
			"user":    user,
			"token":   token,
		})
	}
}

// issueToken drives the bearer server's password grant through a buffered
// request, sets the session cookies and returns the parsed token body. On
// bad credentials it reports 400 (not 401: there is no session to refresh).
func issueToken(app app.App, w http.ResponseWriter, r *http.Request, username, password string) (map[string]any, bool) {
	body := url.Values{
		"grant_type": {"password"},
		"username":   {username},
		"password":   {password},
	}
	req, err := http.NewRequest("POST", "/", strings.NewReader(body.Encode()))
	if err != nil {
		httpx.LogInternalError(w, "auth.token.new_request", err)
		return nil, false
	}
	req.Header.Set("content-type", "application/x-www-form-urlencoded")
	req.Header.Set("content-length", strconv.Itoa(len(body.Encode())))

	resp := httpx.NewResponseBuffer()
	app.UserCredentials(resp, req)
	if resp.Status() == http.StatusUnauthorized {
		httpx.LogStatusMsg(w, http.StatusBadRequest, log.DebugLevel, "auth.token.verify",
			"invalid credentials")
		return nil, false
	}
	if resp.Status() != http.StatusOK {
		httpx.LogStatus(w, resp.Status(), log.WarnLevel, "auth.token.bearer")
		return nil, false
	}

	var token map[string]any
	err = json.Unmarshal(resp.Body(), &token)
	if err != nil {
		httpx.LogInternalError(w, "auth.token.parse", err)
		return nil, false
	}

	access, _ := token["access_token"].(string)
	expiresIn, _ := token["expires_in"].(float64)
	http.SetCookie(w, &http.Cookie{
		Path:     "/",
		Name:     "access_token",
		Value:    access,
		MaxAge:   int(expiresIn),
		SameSite: http.SameSiteNoneMode,
	})
	refresh, _ := token["refresh_token"].(string)
	http.SetCookie(w, &http.Cookie{
		Path:     "/",
		Name:     "refresh_token",
		Value:    refresh,
		MaxAge:   60 * 60 * 24 * 365,
		SameSite: http.SameSiteNoneMode,
	})

	return token, true
}

func Refresh(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("authorization")
		match := regexp.MustCompile(`(?i)^refresh\s+(.*)`).FindStringSubmatch(auth)
		if len(match) == 0 {
			httpx.LogStatus(w, http.StatusUnauthorized, log.DebugLevel, "refresh.token")
			return
		}
		token := match[1]

		body := url.Values{
			"grant_type":    {"refresh_token"},
			"refresh_token": {token},
		}

		req, err := http.NewRequest("POST", "/", strings.NewReader(body.Encode()))
		if err != nil {
			httpx.LogStatus(w, http.StatusInternalServerError, log.DebugLevel, "refresh.new_request")
			return
		}
		req.Header.Set("content-type", "application/x-www-form-urlencoded")
		req.Header.Set("content-length", strconv.Itoa(len(body.Encode())))

		resp := httpx.NewResponseBuffer()
		app.UserCredentials(resp, req)
		resp.Flush(w)
	}
}

func Logout(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := middlewares.PrincipalFrom(r)
		if !ok {
			httpx.LogStatus(w, http.StatusUnauthorized, log.DebugLevel, "logout.principal")
			return
		}

		_, err := app.ExecContext(r.Context(),
			"DELETE FROM token WHERE username = ?", p.Username)
		if err != nil {
			httpx.LogInternalError(w, "db.delete_tokens", err)
			return
		}

		for _, name := range []string{"access_token", "refresh_token"} {
			http.SetCookie(w, &http.Cookie{
				Path:     "/",
				Name:     name,
				Value:    "",
				MaxAge:   -1,
				SameSite: http.SameSiteNoneMode,
			})
		}

		render.JSON(w, r, map[string]any{"success": true})
	}
}
