package emotion

import (
	"fmt"
	"math"
	"sort"

	model "github.com/zhouzirui/moodmirror/internal/model/emotion"
)

// overlayTopN 是叠加层展示的情绪数量。
const overlayTopN = 3

// Dominant 返回置信度严格最大的表情，并列时保留先出现的一项。
func Dominant(expressions model.Expressions) (model.Expression, bool) {
	if len(expressions) == 0 {
		return model.Expression{}, false
	}

	best := expressions[0]
	for _, expr := range expressions[1:] {
		if expr.Confidence > best.Confidence {
			best = expr
		}
	}
	return best, true
}

// Mode 统计观测中出现次数最多的情绪。并列时以聚合过程中先出现的标签为准。
func Mode(observations []model.Observation) (model.Label, bool) {
	if len(observations) == 0 {
		return "", false
	}

	counts := make(map[model.Label]int, len(model.Labels))
	order := make([]model.Label, 0, len(model.Labels))
	for _, obs := range observations {
		if _, seen := counts[obs.Emotion]; !seen {
			order = append(order, obs.Emotion)
		}
		counts[obs.Emotion]++
	}

	best := order[0]
	for _, label := range order[1:] {
		if counts[label] > counts[best] {
			best = label
		}
	}
	return best, true
}

// TopN 按置信度降序返回前 n 项，相同置信度保持原顺序。
func TopN(expressions model.Expressions, n int) model.Expressions {
	sorted := append(model.Expressions(nil), expressions...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})
	if n >= 0 && len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

// OverlayLines 生成叠加层文字：首行为主导情绪，其后是前三项情绪及百分比。
func OverlayLines(expressions model.Expressions) []string {
	top := TopN(expressions, overlayTopN)
	if len(top) == 0 {
		return nil
	}

	lines := make([]string, 0, len(top)+1)
	lines = append(lines, fmt.Sprintf("Emotion: %s (%s%%)", top[0].Label, percent(top[0].Confidence)))
	for _, expr := range top {
		lines = append(lines, fmt.Sprintf("%s: %s%%", expr.Label, percent(expr.Confidence)))
	}
	return lines
}

func percent(confidence float64) string {
	return fmt.Sprintf("%d", int(math.Round(confidence*100)))
}
