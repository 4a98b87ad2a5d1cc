package emotion

import (
	"math"

	model "github.com/zhouzirui/moodmirror/internal/model/emotion"
)

// ferPlusClasses 是 FER+ 模型输出的类别顺序，contempt 不属于可识别的标签。
var ferPlusClasses = []model.Label{
	model.Neutral,
	model.Happy,
	model.Surprised,
	model.Sad,
	model.Angry,
	model.Disgusted,
	model.Fearful,
	"contempt",
}

// FERPlusExpressions 对 FER+ 的原始输出做 softmax，并按固定标签顺序返回表情置信度。
func FERPlusExpressions(logits []float32) model.Expressions {
	if len(logits) < len(ferPlusClasses) {
		return nil
	}

	maxLogit := float64(logits[0])
	for _, v := range logits[1:len(ferPlusClasses)] {
		maxLogit = math.Max(maxLogit, float64(v))
	}

	probs := make(map[model.Label]float64, len(ferPlusClasses))
	var sum float64
	for i, label := range ferPlusClasses {
		p := math.Exp(float64(logits[i]) - maxLogit)
		probs[label] = p
		sum += p
	}

	expressions := make(model.Expressions, 0, len(model.Labels))
	for _, label := range model.Labels {
		expressions = append(expressions, model.Expression{Label: label, Confidence: probs[label] / sum})
	}
	return expressions
}
