package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/recipe-chat/backend/internal/handler/chat"
	"github.com/zhouzirui/recipe-chat/backend/internal/handler/chef"
	"github.com/zhouzirui/recipe-chat/backend/internal/handler/live"
	"github.com/zhouzirui/recipe-chat/backend/internal/handler/stream"
	middlewarePkg "github.com/zhouzirui/recipe-chat/backend/internal/middleware"
	chefModel "github.com/zhouzirui/recipe-chat/backend/internal/model/chef"
	chatService "github.com/zhouzirui/recipe-chat/backend/internal/service/chat"
	"github.com/zhouzirui/recipe-chat/backend/internal/service/reply"
	"github.com/zhouzirui/recipe-chat/backend/pkg/utils"
)

// Deps collects what the router serves. Replies is nil when no model is
// configured.
type Deps struct {
	Chefs          chefModel.Store
	Chats          *chatService.Service
	Replies        *reply.Service
	AllowedOrigins []string
	Logger         *slog.Logger
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(deps.AllowedOrigins))

	chefHandler := chef.New(deps.Chefs)
	chatHandler := chat.New(deps.Chats, deps.Chefs)
	streamHandler := stream.New(deps.Replies, deps.Chats, logger)
	liveHandler := live.New(deps.Chats, deps.Replies, logger)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"ai":     deps.Replies != nil,
		})
	})

	r.Route("/api", func(api chi.Router) {
		chefHandler.RegisterRoutes(api)
		chatHandler.RegisterRoutes(api)
		streamHandler.RegisterRoutes(api)
		liveHandler.RegisterRoutes(api)
	})

	return r
}
