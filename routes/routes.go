package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/formdesk/formdesk/app"
	"github.com/formdesk/formdesk/routes/middlewares"
)

func Wire(app app.App) http.Handler {
	root := chi.NewRouter()
	root.Use(middleware.Logger, middleware.Recoverer)

	root.Mount("/api", apiRouter(app))

	root.
		With(
			middlewares.CookieAuth(app.BearerServer),
			middlewares.Authenticated(app.Config),
			middlewares.Admin,
		).
		Mount("/admin", servePrivateFiles("/admin"))
	root.Mount("/", servePublicFiles())

	return root
}

func apiRouter(app app.App) http.Handler {
	api := chi.NewRouter()

	authenticated := middlewares.Authenticated(app.Config)

	api.Route("/auth", func(r chi.Router) {
		r.Post("/register", Register(app))
		r.Post("/login", Login(app))
		r.Post("/refresh", Refresh(app))
		r.With(authenticated).Post("/logout", Logout(app))
	})

	api.Route("/forms", func(r chi.Router) {
		r.Use(authenticated)

		r.Get("/", ListForms(app))
		r.With(middlewares.Admin).Post("/", CreateForm(app))

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", GetForm(app))
			r.With(middlewares.Admin).Put("/", UpdateForm(app))
			r.With(middlewares.Admin).Delete("/", DeleteForm(app))

			r.Get("/responses", GetFormResponses(app))
			r.Get("/export", ExportFormResponses(app))
			r.Post("/responses/import", ImportFormResponsesCSV(app))
		})
	})

	// fill-out surface: any authenticated user, regardless of form ownership
	api.Route("/fill/{id}", func(r chi.Router) {
		r.Use(authenticated)

		r.Get("/", FillGetForm(app))
		r.Post("/visible", VisibleQuestions(app))
	})

	api.Route("/responses", func(r chi.Router) {
		r.Use(authenticated)

		r.Post("/", CreateResponse(app))
		r.Post("/import", ImportResponses(app))
		r.Put("/{id}", UpdateResponse(app))
		r.Delete("/{id}", DeleteResponse(app))
	})

	return api
}

func servePublicFiles() http.Handler {
	return http.FileServer(http.Dir("public"))
}

func servePrivateFiles(path string) http.Handler {
	return http.StripPrefix(path, http.FileServer(http.Dir("private")))
}
