package tools

import (
	"context"
	"fmt"
	"line-smart-go/pkg/llm"
	"math"
	"regexp"
	"strconv"
	"strings"
)

type food struct {
	name         string
	kcalPer100g  float64
	portionGrams float64 // 一份的克数，0 表示按 100g 计
}

// foodTable 按类别排列，部分匹配时按此顺序取第一个命中项。
var foodTable = []food{
	// 水果類
	{"蘋果", 52, 182}, {"香蕉", 89, 118}, {"橘子", 47, 154}, {"葡萄", 62, 0}, {"草莓", 32, 0},
	{"奇異果", 61, 0}, {"芒果", 60, 0}, {"鳳梨", 50, 0}, {"西瓜", 30, 0}, {"哈密瓜", 34, 0},
	{"櫻桃", 63, 0}, {"桃子", 39, 0}, {"梨子", 57, 0}, {"柳橙", 47, 0},
	// 蔬菜類
	{"白菜", 13, 0}, {"高麗菜", 25, 0}, {"菠菜", 23, 0}, {"花椰菜", 25, 0}, {"紅蘿蔔", 41, 0},
	{"番茄", 18, 0}, {"小黃瓜", 16, 0}, {"萵苣", 15, 0}, {"洋蔥", 40, 0}, {"馬鈴薯", 77, 0},
	{"地瓜", 86, 0}, {"玉米", 86, 0},
	// 肉類
	{"雞胸肉", 165, 0}, {"雞腿肉", 209, 0}, {"豬肉", 242, 0}, {"牛肉", 250, 0}, {"魚肉", 206, 0},
	{"蝦子", 99, 0}, {"蛋", 155, 50},
	// 主食類
	{"白米飯", 130, 150}, {"糙米飯", 111, 0}, {"麵條", 131, 0}, {"麵包", 265, 28}, {"吐司", 264, 0},
	// 堅果類
	{"花生", 567, 0}, {"杏仁", 579, 0}, {"核桃", 654, 0}, {"腰果", 553, 0},
	// 飲品類
	{"牛奶", 42, 240}, {"豆漿", 33, 0}, {"可樂", 42, 0}, {"果汁", 45, 0},
	// 零食類
	{"巧克力", 546, 0}, {"餅乾", 502, 0}, {"洋芋片", 536, 0}, {"冰淇淋", 207, 0},
}

const (
	countUnits  = `顆|個|根|片|碗|杯|條|塊|份`
	weightUnits = `公克|克|g|G`
	number      = `(\d+(?:\.\d+)?)`
)

var (
	amountFirst = regexp.MustCompile(`^` + number + `\s*(` + weightUnits + `|` + countUnits + `)\s*(.+)$`)
	foodFirst   = regexp.MustCompile(`^(.+?)\s*` + number + `\s*(` + weightUnits + `|` + countUnits + `)$`)
	punctuation = strings.NewReplacer("，", "", "。", "", "！", "", "？", "", ",", "", "?", "", "!", "")
)

type portion struct {
	food   string
	amount float64
	unit   string // 空字符串表示默认份量
}

func isWeightUnit(unit string) bool {
	switch unit {
	case "公克", "克", "g", "G":
		return true
	}
	return false
}

func parsePortion(input string) (portion, bool) {
	cleaned := strings.TrimSpace(punctuation.Replace(input))
	if cleaned == "" {
		return portion{}, false
	}
	if m := amountFirst.FindStringSubmatch(cleaned); m != nil {
		amount, _ := strconv.ParseFloat(m[1], 64)
		return portion{food: strings.TrimSpace(m[3]), amount: amount, unit: m[2]}, true
	}
	if m := foodFirst.FindStringSubmatch(cleaned); m != nil {
		amount, _ := strconv.ParseFloat(m[2], 64)
		return portion{food: strings.TrimSpace(m[1]), amount: amount, unit: m[3]}, true
	}
	return portion{food: cleaned, amount: 1}, true
}

// lookupFood 先精确匹配，再做双向包含匹配。
func lookupFood(name string) (food, bool) {
	for _, f := range foodTable {
		if f.name == name {
			return f, true
		}
	}
	for _, f := range foodTable {
		if strings.Contains(f.name, name) || strings.Contains(name, f.name) {
			return f, true
		}
	}
	return food{}, false
}

func (f food) portionSize() float64 {
	if f.portionGrams > 0 {
		return f.portionGrams
	}
	return 100
}

// calories 计算一份食物的热量（大卡，四舍五入）。
func (f food) calories(p portion) int {
	grams := f.portionSize() * p.amount
	if isWeightUnit(p.unit) {
		grams = p.amount
	}
	return int(math.Round(f.kcalPer100g * grams / 100))
}

// CalculateCalories 解析诸如 "1顆蘋果"、"200g 雞胸肉"、"蘋果" 的输入并返回格式化结果。
func CalculateCalories(input string) string {
	p, ok := parsePortion(input)
	if !ok {
		return calorieUsage
	}
	f, found := lookupFood(p.food)
	if !found {
		return suggestFoods(p.food)
	}

	desc := fmt.Sprintf("%g%s%s", p.amount, p.unit, f.name)
	if p.unit == "" {
		desc = "1份" + f.name
	}
	return fmt.Sprintf(`🍎 卡路里計算結果

📊 食物：%s
⚖️ 份量：%s
🔥 卡路里：%d 大卡

📋 營養資訊：
• %s每100g含有 %g 大卡
• 建議每日成人攝取量：1800-2400大卡

💡 小提醒：實際卡路里可能因品種、烹調方式而有所差異`, f.name, desc, f.calories(p), f.name, f.kcalPer100g)
}

func suggestFoods(name string) string {
	var suggestions []string
	first := []rune(name)
	for _, f := range foodTable {
		if len(suggestions) == 5 {
			break
		}
		if (len(first) > 0 && strings.ContainsRune(f.name, first[0])) || strings.ContainsRune(name, []rune(f.name)[0]) {
			suggestions = append(suggestions, "• "+f.name)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "❌ 很抱歉，找不到「%s」的卡路里資訊。\n\n", name)
	if len(suggestions) > 0 {
		fmt.Fprintf(&b, "🔍 您是否要查詢：\n%s\n\n", strings.Join(suggestions, "\n"))
	}
	fmt.Fprintf(&b, "📚 目前支援 %d 種食物的卡路里查詢", len(foodTable))
	return b.String()
}

const calorieUsage = `🍎 卡路里計算工具使用說明

✅ 支援的輸入格式：
• "1顆蘋果"
• "100g雞胸肉"
• "1碗白米飯"
• "50克花生"
• "蘋果" (使用預設份量)

請輸入食物名稱和份量來查詢卡路里！`

type calorieTool struct{}

// NewCalorieTool 返回 calorie_calculator 工具。
func NewCalorieTool() llm.Tool {
	return calorieTool{}
}

func (calorieTool) Name() string { return "calorie_calculator" }

func (calorieTool) Description() string {
	return "計算食物的卡路里含量。可以輸入食物名稱和份量，例如：'1顆蘋果'、'100g雞胸肉'、'1碗白米飯'"
}

func (calorieTool) Call(_ context.Context, input string) (string, error) {
	return CalculateCalories(input), nil
}
