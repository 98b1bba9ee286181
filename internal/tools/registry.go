package tools

import (
	"line-smart-go/internal/intent"
	"line-smart-go/pkg/llm"
)

// Registry 维护能力域到工具的映射。
type Registry struct {
	byCapability map[intent.Capability][]llm.Tool
	order        []intent.Capability
}

// NewRegistry 创建默认的工具注册表：天气、营养与身体指标。
func NewRegistry(weather *WeatherClient) *Registry {
	r := &Registry{byCapability: map[intent.Capability][]llm.Tool{}}
	r.Register(intent.Weather, NewWeatherQueryTool(weather), NewWeatherForecastTool(weather))
	r.Register(intent.Nutrition, NewCalorieTool())
	r.Register(intent.BodyMetrics, NewBMITool())
	return r
}

// Register 为能力域追加工具。
func (r *Registry) Register(capability intent.Capability, tools ...llm.Tool) {
	if _, ok := r.byCapability[capability]; !ok {
		r.order = append(r.order, capability)
	}
	r.byCapability[capability] = append(r.byCapability[capability], tools...)
}

// ForCapabilities 返回能力集合对应的工具，按能力顺序排列且按名称去重。
func (r *Registry) ForCapabilities(caps intent.Set) []llm.Tool {
	seen := map[string]struct{}{}
	var out []llm.Tool
	for _, c := range caps {
		for _, t := range r.byCapability[c] {
			if _, dup := seen[t.Name()]; dup {
				continue
			}
			seen[t.Name()] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}

// All 返回全部已注册工具。
func (r *Registry) All() []llm.Tool {
	return r.ForCapabilities(intent.Set(r.order))
}
