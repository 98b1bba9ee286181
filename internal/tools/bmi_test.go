package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHeightWeight(t *testing.T) {
	tests := []struct {
		input  string
		height float64
		weight float64
		ok     bool
	}{
		{"170cm 70kg", 1.70, 70, true},
		{"身高170 體重65", 1.70, 65, true},
		{"1.8 80", 1.8, 80, true},
		{"我想算BMI", 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			h, w, ok := ParseHeightWeight(tt.input)
			require.Equal(t, tt.ok, ok)
			assert.InDelta(t, tt.height, h, 1e-9)
			assert.InDelta(t, tt.weight, w, 1e-9)
		})
	}
}

func TestCategorize(t *testing.T) {
	assert.Equal(t, "體重過輕", categorize(18.4).Name)
	assert.Equal(t, "正常範圍", categorize(18.5).Name)
	assert.Equal(t, "體重過重", categorize(24).Name)
	assert.Equal(t, "肥胖", categorize(27).Name)
}

func TestCalculateBMI(t *testing.T) {
	out := CalculateBMI("身高170 體重70")
	assert.Contains(t, out, "📈 BMI：24.2")
	assert.Contains(t, out, "體重過重")
	assert.Contains(t, out, "🎯 理想體重範圍：53kg - 69kg")

	assert.Contains(t, CalculateBMI("身高0 體重70"), "必須大於0")
	assert.Contains(t, CalculateBMI("hello"), "輸入格式錯誤")
}

func TestBMITool(t *testing.T) {
	tool := NewBMITool()
	assert.Equal(t, "bmi_calculator", tool.Name())
	out, err := tool.Call(context.Background(), "165 55")
	require.NoError(t, err)
	assert.Contains(t, out, "正常範圍")
}
