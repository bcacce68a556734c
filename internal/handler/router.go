package handler

import (
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/avelasco/chatrelay/internal/handler/calc"
	"github.com/avelasco/chatrelay/internal/handler/ws"
	middlewarePkg "github.com/avelasco/chatrelay/internal/middleware"
)

// NewRouter wires HTTP routes to the transport and the peripheral
// endpoints. The chat protocol lives entirely behind /ws; everything else
// here is static serving and stateless utilities.
func NewRouter(wsHandler *ws.Handler, clientDir string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, filepath.Join(clientDir, "index.html"))
	})

	wsHandler.RegisterRoutes(r)

	r.Route("/api", func(api chi.Router) {
		calc.New().RegisterRoutes(api)
	})

	return r
}
