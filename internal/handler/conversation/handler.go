package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/moodmirror/internal/model/character"
	model "github.com/zhouzirui/moodmirror/internal/model/conversation"
	emotionmodel "github.com/zhouzirui/moodmirror/internal/model/emotion"
	conversationservice "github.com/zhouzirui/moodmirror/internal/service/conversation"
	"github.com/zhouzirui/moodmirror/pkg/utils"
)

// Looper 运行一次完整的对话循环。
type Looper interface {
	ConversationLoop(ctx context.Context, opts conversationservice.Options) (*model.Result, error)
}

// TurnStore 记录完成的对话轮次。
type TurnStore interface {
	Save(ctx context.Context, turn model.Turn) (model.Turn, error)
	List(ctx context.Context) []model.Turn
}

// Defaults 是请求未指定时使用的参数。
type Defaults struct {
	SystemPrompt string
	Character    string
}

// Handler 对话循环的HTTP处理器。同一时间只允许一个循环，因为麦克风只有一个。
type Handler struct {
	session    Looper
	turns      TurnStore
	characters character.Store
	defaults   Defaults
	logger     logrus.FieldLogger
	busy       atomic.Bool
}

// New 创建对话处理器。
func New(session Looper, turns TurnStore, characters character.Store, defaults Defaults, logger logrus.FieldLogger) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if defaults.Character == "" {
		defaults.Character = model.DefaultCharacter
	}
	return &Handler{
		session:    session,
		turns:      turns,
		characters: characters,
		defaults:   defaults,
		logger:     logger.WithField("component", "conversation-api"),
	}
}

// RegisterRoutes 注册对话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/conversation", func(r chi.Router) {
		r.Post("/loop", h.handleLoop)
		r.Get("/turns", h.handleListTurns)
	})
}

type loopRequest struct {
	SystemPrompt *string `json:"systemPrompt,omitempty"`
	Character    string  `json:"character,omitempty"`
	Emotion      string  `json:"emotion,omitempty"`
}

type resultEvent struct {
	TurnID           string `json:"turnId"`
	AssistantMessage string `json:"assistantMessage"`
}

// handleLoop 运行对话循环，并以 SSE 推送每个阶段的状态。
func (h *Handler) handleLoop(w http.ResponseWriter, r *http.Request) {
	var req loopRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	opts := conversationservice.Options{
		SystemPrompt: h.defaults.SystemPrompt,
		Character:    h.defaults.Character,
	}
	if req.SystemPrompt != nil {
		opts.SystemPrompt = *req.SystemPrompt
	}
	if req.Character != "" {
		if _, ok := h.characters.FindByID(req.Character); !ok {
			utils.RespondError(w, http.StatusBadRequest, "unknown character")
			return
		}
		opts.Character = req.Character
	}
	if req.Emotion != "" {
		label, ok := emotionmodel.ParseLabel(req.Emotion)
		if !ok {
			utils.RespondError(w, http.StatusBadRequest, "unknown emotion")
			return
		}
		opts.Emotion = label
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	if !h.busy.CompareAndSwap(false, true) {
		utils.RespondError(w, http.StatusConflict, "conversation loop already running")
		return
	}
	defer h.busy.Store(false)

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	send := func(event string, data interface{}) {
		if err := utils.SendSSEEvent(w, flusher, event, data); err != nil {
			h.logger.WithError(err).Debug("sse write failed")
		}
	}
	opts.OnStatusChange = func(status string) {
		send("status", map[string]string{"status": status})
	}
	opts.OnResponseText = func(text string) {
		send("response", map[string]string{"text": text})
	}

	result, err := h.session.ConversationLoop(r.Context(), opts)
	if err != nil {
		send("error", map[string]string{"error": err.Error()})
		return
	}

	turn, err := h.turns.Save(r.Context(), model.Turn{
		Character:        opts.Character,
		Emotion:          result.Emotion,
		AssistantMessage: result.AssistantMessage,
	})
	if err != nil {
		h.logger.WithError(err).Warn("failed to save turn")
	}
	send("result", resultEvent{TurnID: turn.ID, AssistantMessage: result.AssistantMessage})
}

func (h *Handler) handleListTurns(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.turns.List(r.Context()))
}
