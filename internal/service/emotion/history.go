package emotion

import (
	"time"

	model "github.com/zhouzirui/moodmirror/internal/model/emotion"
)

// HistoryCapacity 是滚动历史保留的最大观测数。
const HistoryCapacity = 30

// History 是按插入顺序保存的有界观测序列，溢出时先淘汰最旧的观测。
// History 本身不加锁，由 Sampler 负责同步。
type History struct {
	items    []model.Observation
	capacity int
}

// NewHistory 创建容量为 capacity 的历史，capacity <= 0 时使用 HistoryCapacity。
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = HistoryCapacity
	}
	return &History{
		items:    make([]model.Observation, 0, capacity),
		capacity: capacity,
	}
}

// Append 追加一条观测，超出容量时丢弃最旧的一条。
func (h *History) Append(obs model.Observation) {
	if len(h.items) == h.capacity {
		copy(h.items, h.items[1:])
		h.items = h.items[:len(h.items)-1]
	}
	h.items = append(h.items, obs)
}

// Len 返回当前观测数量。
func (h *History) Len() int {
	return len(h.items)
}

// Snapshot 返回观测的副本。
func (h *History) Snapshot() []model.Observation {
	copied := make([]model.Observation, len(h.items))
	copy(copied, h.items)
	return copied
}

// Within 返回满足 0 <= now-timestamp < window 的观测副本。
func (h *History) Within(now time.Time, window time.Duration) []model.Observation {
	recent := make([]model.Observation, 0, len(h.items))
	for _, obs := range h.items {
		age := now.Sub(obs.Timestamp)
		if age >= 0 && age < window {
			recent = append(recent, obs)
		}
	}
	return recent
}
