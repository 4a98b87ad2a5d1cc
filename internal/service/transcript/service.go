package transcript

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	model "github.com/zhouzirui/moodmirror/internal/model/conversation"
)

// ErrCharacterRequired 表示保存的轮次缺少角色。
var ErrCharacterRequired = errors.New("character is required")

// Service 在进程内记录已完成的对话轮次，进程退出即丢弃。
type Service struct {
	mu    sync.RWMutex
	turns []model.Turn
	now   func() time.Time
}

// NewService 创建空的轮次记录。
func NewService() *Service {
	return &Service{
		turns: make([]model.Turn, 0, 16),
		now:   time.Now,
	}
}

// Save 追加一轮对话，分配 ID 与创建时间。
func (s *Service) Save(_ context.Context, turn model.Turn) (model.Turn, error) {
	if turn.Character == "" {
		return model.Turn{}, ErrCharacterRequired
	}

	turn.ID = uuid.NewString()
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = s.now().UTC()
	}

	s.mu.Lock()
	s.turns = append(s.turns, turn)
	s.mu.Unlock()
	return turn, nil
}

// List 按保存顺序返回所有轮次的副本。
func (s *Service) List(_ context.Context) []model.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()

	copied := make([]model.Turn, len(s.turns))
	copy(copied, s.turns)
	return copied
}
