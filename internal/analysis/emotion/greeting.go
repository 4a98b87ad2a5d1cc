package emotion

import model "github.com/zhouzirui/moodmirror/internal/model/emotion"

const defaultGreeting = "Hallo! Schön, dich zu sehen. Wie kann ich dir heute helfen?"

var greetings = map[model.Label]string{
	model.Happy:     "Du siest glücklich aus! Schön, dass es dir gut geht! Wie kann ich dir heute helfen?",
	model.Sad:       "Du wirkst nachdenklich... Möchtest du mir etwas erzählen? Ich bin ganz Ohr!",
	model.Angry:     "Du siehst ernst aus. Vielleicht kann ich dir helfen, etwas zu verbessern?",
	model.Fearful:   "Du wirkst angespannt. Keine Sorge, ich bin hier um zu helfen!",
	model.Disgusted: "Etwas gefällt dir nicht? Lass mich wissen, wie ich helfen kann!",
	model.Surprised: "Überraschung! Wie geht es dir?",
	model.Neutral:   defaultGreeting,
}

// Greeting 返回情绪对应的固定问候语，未知或空标签使用默认问候语。
func Greeting(label model.Label) string {
	if greeting, ok := greetings[label]; ok {
		return greeting
	}
	return defaultGreeting
}
