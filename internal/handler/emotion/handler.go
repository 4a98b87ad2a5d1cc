package emotion

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	model "github.com/zhouzirui/moodmirror/internal/model/emotion"
	emotionservice "github.com/zhouzirui/moodmirror/internal/service/emotion"
	"github.com/zhouzirui/moodmirror/pkg/utils"
)

// Sampler 是处理器依赖的情绪查询能力。
type Sampler interface {
	Emotion() (model.Label, bool)
	Snapshot(window time.Duration) emotionservice.Snapshot
	History() []model.Observation
	PersonalizedGreeting(override model.Label) string
}

// OverlaySource 提供最近一次渲染的叠加层 JPEG。
type OverlaySource interface {
	Latest() []byte
}

// Handler 情绪查询的HTTP处理器
type Handler struct {
	sampler Sampler
	overlay OverlaySource
	hub     *Hub
}

// New 创建情绪处理器。overlay 与 hub 可以为 nil。
func New(sampler Sampler, overlay OverlaySource, hub *Hub) *Handler {
	return &Handler{sampler: sampler, overlay: overlay, hub: hub}
}

// RegisterRoutes 注册情绪相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/emotion", func(r chi.Router) {
		r.Get("/", h.handleCurrent)
		r.Get("/history", h.handleHistory)
		r.Get("/greeting", h.handleGreeting)
		r.Get("/overlay.jpg", h.handleOverlay)
		if h.hub != nil {
			r.Get("/ws", h.hub.ServeWS)
		}
	})
}

type currentResponse struct {
	Emotion       model.Label `json:"emotion"`
	Confidence    float64     `json:"confidence"`
	Average       model.Label `json:"average"`
	WindowSeconds float64     `json:"windowSeconds"`
	Samples       int         `json:"samples"`
}

// handleCurrent 返回当前情绪和窗口内的众数。?window= 以秒为单位。
func (h *Handler) handleCurrent(w http.ResponseWriter, r *http.Request) {
	window := 5 * time.Second
	if raw := r.URL.Query().Get("window"); raw != "" {
		seconds, err := strconv.ParseFloat(raw, 64)
		if err != nil || seconds <= 0 {
			utils.RespondError(w, http.StatusBadRequest, "window must be a positive number of seconds")
			return
		}
		window = time.Duration(seconds * float64(time.Second))
	}

	snap := h.sampler.Snapshot(window)
	utils.RespondJSON(w, http.StatusOK, currentResponse{
		Emotion:       snap.Emotion,
		Confidence:    snap.Confidence,
		Average:       snap.Average,
		WindowSeconds: window.Seconds(),
		Samples:       snap.Samples,
	})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.sampler.History())
}

// handleGreeting 未指定 emotion 时使用当前情绪。
func (h *Handler) handleGreeting(w http.ResponseWriter, r *http.Request) {
	var label model.Label
	if raw := r.URL.Query().Get("emotion"); raw != "" {
		if parsed, ok := model.ParseLabel(raw); ok {
			label = parsed
		} else {
			label = model.Label(raw)
		}
	} else if current, ok := h.sampler.Emotion(); ok {
		label = current
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{
		"emotion":  string(label),
		"greeting": h.sampler.PersonalizedGreeting(label),
	})
}

func (h *Handler) handleOverlay(w http.ResponseWriter, r *http.Request) {
	if h.overlay == nil {
		utils.RespondError(w, http.StatusNotFound, "overlay unavailable")
		return
	}
	img := h.overlay.Latest()
	if len(img) == 0 {
		utils.RespondError(w, http.StatusNotFound, "no overlay rendered yet")
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(img)
}
