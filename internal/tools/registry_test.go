package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"line-smart-go/internal/config"
	"line-smart-go/internal/intent"
	"line-smart-go/pkg/llm"
)

func toolNames(tools []llm.Tool) []string {
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, t.Name())
	}
	return names
}

func TestRegistry_ForCapabilities(t *testing.T) {
	r := NewRegistry(NewWeatherClient(config.WeatherConfig{}, nil))

	assert.Equal(t, []string{"weather_query", "weather_forecast"}, toolNames(r.ForCapabilities(intent.Set{intent.Weather})))
	assert.Equal(t, []string{"calorie_calculator", "bmi_calculator"},
		toolNames(r.ForCapabilities(intent.Set{intent.Nutrition, intent.BodyMetrics})))
	assert.Empty(t, r.ForCapabilities(nil))
	assert.Len(t, r.All(), 4)
}

func TestRegistry_DeduplicatesByName(t *testing.T) {
	r := &Registry{byCapability: map[intent.Capability][]llm.Tool{}}
	r.Register(intent.Nutrition, NewCalorieTool())
	r.Register(intent.BodyMetrics, NewCalorieTool(), NewBMITool())

	assert.Equal(t, []string{"calorie_calculator", "bmi_calculator"}, toolNames(r.All()))
}
