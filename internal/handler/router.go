package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	characterHandler "github.com/zhouzirui/moodmirror/internal/handler/character"
	conversationHandler "github.com/zhouzirui/moodmirror/internal/handler/conversation"
	emotionHandler "github.com/zhouzirui/moodmirror/internal/handler/emotion"
	middlewarePkg "github.com/zhouzirui/moodmirror/internal/middleware"
	"github.com/zhouzirui/moodmirror/internal/observability"
	"github.com/zhouzirui/moodmirror/pkg/utils"
)

// Deps 汇总路由需要的处理器。Conversation 为 nil 时不注册对话接口。
type Deps struct {
	Emotion        *emotionHandler.Handler
	Conversation   *conversationHandler.Handler
	Characters     *characterHandler.Handler
	Gatherer       prometheus.Gatherer
	AllowedOrigins []string
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(deps.AllowedOrigins))

	r.Handle("/metrics", observability.MetricsHandler(deps.Gatherer))

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		if deps.Emotion != nil {
			deps.Emotion.RegisterRoutes(api)
		}
		if deps.Characters != nil {
			deps.Characters.RegisterRoutes(api)
		}
		if deps.Conversation != nil {
			deps.Conversation.RegisterRoutes(api)
		}
	})

	return r
}
