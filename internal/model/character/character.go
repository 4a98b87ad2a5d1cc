package character

import (
	"strings"

	model "github.com/zhouzirui/moodmirror/internal/model/conversation"
)

// Character 是远端对话服务中可选的角色。
type Character struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Default     bool   `json:"default,omitempty"`
}

// Seed 返回默认角色，再追加 extra 中配置的角色 ID（去重，忽略空白）。
func Seed(extra ...string) []Character {
	items := []Character{{
		ID:          model.DefaultCharacter,
		Name:        "Mark",
		Description: "Default avatar voice of the conversation service.",
		Default:     true,
	}}

	seen := map[string]bool{model.DefaultCharacter: true}
	for _, id := range extra {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		items = append(items, Character{ID: id, Name: id})
	}
	return items
}
