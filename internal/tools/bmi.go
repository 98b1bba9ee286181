package tools

import (
	"context"
	"fmt"
	"line-smart-go/pkg/llm"
	"math"
	"regexp"
	"strconv"
)

var numberPattern = regexp.MustCompile(`\d+(?:\.\d+)?`)

// BMICategory 使用台湾卫福部的成人 BMI 分级。
type BMICategory struct {
	Name        string
	Emoji       string
	Description string
}

func categorize(bmi float64) BMICategory {
	switch {
	case bmi < 18.5:
		return BMICategory{Name: "體重過輕", Emoji: "📉", Description: "建議增加營養攝取，適度運動增肌"}
	case bmi < 24:
		return BMICategory{Name: "正常範圍", Emoji: "✅", Description: "維持良好的生活習慣，繼續保持！"}
	case bmi < 27:
		return BMICategory{Name: "體重過重", Emoji: "⚠️", Description: "建議控制飲食，增加運動量"}
	default:
		return BMICategory{Name: "肥胖", Emoji: "🚨", Description: "建議諮詢醫師，制定減重計畫"}
	}
}

// ParseHeightWeight 从文本中依次取出身高与体重。身高小于 3 时视为公尺。
func ParseHeightWeight(input string) (heightM, weightKg float64, ok bool) {
	nums := numberPattern.FindAllString(input, 2)
	if len(nums) < 2 {
		return 0, 0, false
	}
	h, err1 := strconv.ParseFloat(nums[0], 64)
	w, err2 := strconv.ParseFloat(nums[1], 64)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	if h >= 3 {
		h /= 100
	}
	return h, w, true
}

// CalculateBMI 返回格式化的 BMI 结果或输入格式说明。
func CalculateBMI(input string) string {
	height, weight, ok := ParseHeightWeight(input)
	if !ok {
		return `❌ 輸入格式錯誤

✅ 正確格式：
• "170cm 70kg"
• "165 55"
• "身高170 體重65"

請重新輸入身高和體重！`
	}
	if height <= 0 || weight <= 0 {
		return "❌ 身高和體重必須大於0"
	}

	bmi := weight / (height * height)
	cat := categorize(bmi)
	minW := math.Round(18.5 * height * height)
	maxW := math.Round(24 * height * height)

	return fmt.Sprintf(`📊 BMI 計算結果

👤 身高：%dcm
⚖️ 體重：%gkg
📈 BMI：%.1f

📋 分類：%s %s
💡 %s

🎯 理想體重範圍：%gkg - %gkg

📚 BMI 分類標準：
• 過輕：< 18.5
• 正常：18.5 - 23.9
• 過重：24.0 - 26.9
• 肥胖：≥ 27.0`, int(math.Round(height*100)), weight, bmi, cat.Name, cat.Emoji, cat.Description, minW, maxW)
}

type bmiTool struct{}

// NewBMITool 返回 bmi_calculator 工具。
func NewBMITool() llm.Tool {
	return bmiTool{}
}

func (bmiTool) Name() string { return "bmi_calculator" }

func (bmiTool) Description() string {
	return "計算BMI（身體質量指數）。輸入格式：'身高體重'，例如：'170cm 70kg'"
}

func (bmiTool) Call(_ context.Context, input string) (string, error) {
	return CalculateBMI(input), nil
}
