// Package intent 判断一条消息是否需要走工具增强路径。
//
// 规则是一张数据表：每个能力对应一组关键词，可选地再要求第二组关键词同时出现。
// 匹配是区分大小写的子串查找，不做分词。
package intent

import "strings"

// Capability 是工具增强路径可以开放的一类工具。
type Capability string

const (
	None        Capability = ""
	Weather     Capability = "weather"
	Nutrition   Capability = "nutrition"
	BodyMetrics Capability = "body_metrics"
)

// Rule 在文本包含任一 Keywords 时命中；Required 非空时还须包含其中之一。
type Rule struct {
	Capability Capability
	Keywords   []string
	Required   []string
}

// DefaultRules 是线上使用的关键词表。
var DefaultRules = []Rule{
	{
		Capability: Weather,
		Keywords: []string{
			"天氣", "氣溫", "溫度", "下雨", "晴天", "陰天", "雲", "風",
			"濕度", "氣壓", "預報", "明天天氣", "今天天氣", "天氣預報",
			"weather", "台北天氣", "高雄天氣", "台中天氣",
		},
	},
	{
		Capability: Nutrition,
		Keywords: []string{
			"卡路里", "大卡", "熱量", "營養", "多少卡", "卡洛里",
			"蘋果", "香蕉", "雞胸肉", "米飯", "麵包", "食物",
			"calorie", "kcal",
		},
	},
	{
		Capability: BodyMetrics,
		Keywords: []string{
			"BMI", "bmi", "身體質量指數", "體重", "身高", "肥胖",
			"過重", "體脂", "健康", "標準體重", "kg", "cm",
		},
		// 只出现 健康、kg 这类泛词不算
		Required: []string{"身高", "體重", "BMI", "bmi"},
	},
}

// Set 是有序且不重复的能力集合，空集合走普通对话路径。
type Set []Capability

func (s Set) Empty() bool { return len(s) == 0 }

func (s Set) Has(c Capability) bool {
	for _, x := range s {
		if x == c {
			return true
		}
	}
	return false
}

// Strings 返回能力名称，用于日志与记忆快照。
func (s Set) Strings() []string {
	out := make([]string, 0, len(s))
	for _, c := range s {
		out = append(out, string(c))
	}
	return out
}

// Router 按规则表对文本分类。
type Router struct {
	rules []Rule
}

// NewRouter 创建 Router，rules 为 nil 时使用 DefaultRules。
func NewRouter(rules []Rule) *Router {
	if rules == nil {
		rules = DefaultRules
	}
	return &Router{rules: rules}
}

// Classify 按表中顺序返回所有命中的能力。
func (r *Router) Classify(text string) Set {
	var out Set
	for _, rule := range r.rules {
		if rule.Capability == None || out.Has(rule.Capability) {
			continue
		}
		if !containsAny(text, rule.Keywords) {
			continue
		}
		if len(rule.Required) > 0 && !containsAny(text, rule.Required) {
			continue
		}
		out = append(out, rule.Capability)
	}
	return out
}

func containsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if k != "" && strings.Contains(text, k) {
			return true
		}
	}
	return false
}
