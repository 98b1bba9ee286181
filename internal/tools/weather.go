// Package tools 实现 agent 可调用的工具：天气、卡路里与 BMI。
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"line-smart-go/internal/config"
	"line-smart-go/pkg/llm"
	"line-smart-go/pkg/log"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrWeatherNotConfigured 表示未配置天气 API key。
var ErrWeatherNotConfigured = errors.New("weather api key not configured")

// WeatherClient 通过 OpenWeatherMap 查询当前天气与 5 天预报，结果可选地缓存在 Redis。
type WeatherClient struct {
	cfg    config.WeatherConfig
	client *http.Client
	rdb    *redis.Client
}

// NewWeatherClient 创建天气客户端。rdb 为 nil 时不缓存。
func NewWeatherClient(cfg config.WeatherConfig, rdb *redis.Client) *WeatherClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WeatherClient{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		rdb:    rdb,
	}
}

type geoResult struct {
	Name    string  `json:"name"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Country string  `json:"country"`
}

type weatherCondition struct {
	Main        string `json:"main"`
	Description string `json:"description"`
}

type currentWeather struct {
	Main struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
		Humidity  int     `json:"humidity"`
		Pressure  int     `json:"pressure"`
	} `json:"main"`
	Weather []weatherCondition `json:"weather"`
	Wind    struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
	Visibility int `json:"visibility"`
}

type forecastResponse struct {
	List []struct {
		Dt   int64 `json:"dt"`
		Main struct {
			Temp float64 `json:"temp"`
		} `json:"main"`
		Weather []weatherCondition `json:"weather"`
	} `json:"list"`
	City struct {
		Timezone int `json:"timezone"`
	} `json:"city"`
}

var weatherEmoji = map[string]string{
	"Clear":        "☀️",
	"Clouds":       "☁️",
	"Rain":         "🌧️",
	"Drizzle":      "🌦️",
	"Thunderstorm": "⛈️",
	"Snow":         "❄️",
	"Mist":         "🌫️",
	"Fog":          "🌫️",
	"Haze":         "🌫️",
	"Dust":         "🌪️",
	"Sand":         "🌪️",
	"Ash":          "🌋",
	"Squall":       "💨",
	"Tornado":      "🌪️",
}

func emojiFor(main string) string {
	if e, ok := weatherEmoji[main]; ok {
		return e
	}
	return "🌤️"
}

// Current 返回城市当前天气的格式化文本。
func (w *WeatherClient) Current(ctx context.Context, city string) (string, error) {
	return w.cached(ctx, "current", city, func() (string, error) {
		geo, err := w.geocode(ctx, city)
		if err != nil {
			return "", err
		}
		var cw currentWeather
		if err := w.getJSON(ctx, strings.TrimRight(w.cfg.BaseURL, "/")+"/weather", w.coordQuery(geo), &cw); err != nil {
			return "", err
		}
		return formatCurrent(geo, cw), nil
	})
}

// Forecast 返回城市 5 天预报的格式化文本。
func (w *WeatherClient) Forecast(ctx context.Context, city string) (string, error) {
	return w.cached(ctx, "forecast", city, func() (string, error) {
		geo, err := w.geocode(ctx, city)
		if err != nil {
			return "", err
		}
		var fr forecastResponse
		if err := w.getJSON(ctx, strings.TrimRight(w.cfg.BaseURL, "/")+"/forecast", w.coordQuery(geo), &fr); err != nil {
			return "", err
		}
		return formatForecast(geo, fr), nil
	})
}

// cached 先查 Redis，未命中时执行 fetch 并写回。Redis 故障只记录日志。
func (w *WeatherClient) cached(ctx context.Context, kind, city string, fetch func() (string, error)) (string, error) {
	city = strings.TrimSpace(city)
	if city == "" {
		return "", errors.New("city name is required")
	}
	if w.cfg.APIKey == "" {
		return "", ErrWeatherNotConfigured
	}

	key := fmt.Sprintf("weather:%s:%s", kind, strings.ToLower(city))
	if w.rdb != nil {
		val, err := w.rdb.Get(ctx, key).Result()
		if err == nil {
			return val, nil
		}
		if !errors.Is(err, redis.Nil) {
			log.Warnw("weather cache read failed", "key", key, "error", err)
		}
	}

	out, err := fetch()
	if err != nil {
		return "", err
	}

	if w.rdb != nil {
		ttl := w.cfg.CacheTTL
		if ttl <= 0 {
			ttl = 5 * time.Minute
		}
		if err := w.rdb.Set(ctx, key, out, ttl).Err(); err != nil {
			log.Warnw("weather cache write failed", "key", key, "error", err)
		}
	}
	return out, nil
}

func (w *WeatherClient) geocode(ctx context.Context, city string) (geoResult, error) {
	q := url.Values{}
	q.Set("q", city)
	q.Set("limit", "1")
	q.Set("appid", w.cfg.APIKey)

	var results []geoResult
	if err := w.getJSON(ctx, w.cfg.GeoURL, q, &results); err != nil {
		return geoResult{}, err
	}
	if len(results) == 0 {
		return geoResult{}, fmt.Errorf("找不到城市：%s", city)
	}
	return results[0], nil
}

func (w *WeatherClient) coordQuery(geo geoResult) url.Values {
	q := url.Values{}
	q.Set("lat", fmt.Sprintf("%f", geo.Lat))
	q.Set("lon", fmt.Sprintf("%f", geo.Lon))
	q.Set("appid", w.cfg.APIKey)
	q.Set("units", "metric")
	q.Set("lang", "zh_tw")
	return q
}

func (w *WeatherClient) getJSON(ctx context.Context, endpoint string, query url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to create weather request: %w", err)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call weather api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API 錯誤：%s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode weather response: %w", err)
	}
	return nil
}

func formatCurrent(geo geoResult, cw currentWeather) string {
	var cond weatherCondition
	if len(cw.Weather) > 0 {
		cond = cw.Weather[0]
	}
	var b strings.Builder
	fmt.Fprintf(&b, "🌍 %s, %s\n\n", geo.Name, geo.Country)
	fmt.Fprintf(&b, "%s 天氣狀況：%s\n", emojiFor(cond.Main), cond.Description)
	fmt.Fprintf(&b, "🌡️ 溫度：%d°C (體感 %d°C)\n", round(cw.Main.Temp), round(cw.Main.FeelsLike))
	fmt.Fprintf(&b, "💧 濕度：%d%%\n", cw.Main.Humidity)
	fmt.Fprintf(&b, "🎈 氣壓：%d hPa\n", cw.Main.Pressure)
	fmt.Fprintf(&b, "💨 風速：%g m/s\n", cw.Wind.Speed)
	fmt.Fprintf(&b, "👁️ 能見度：%d km\n\n", round(float64(cw.Visibility)/1000))
	b.WriteString("資料來源：OpenWeatherMap")
	return b.String()
}

// formatForecast 按城市当地日期分组，每天给出最低/最高温度。
func formatForecast(geo geoResult, fr forecastResponse) string {
	loc := time.FixedZone("city", fr.City.Timezone)
	type day struct {
		min, max float64
		cond     weatherCondition
	}
	days := map[string]*day{}
	var order []string
	for _, item := range fr.List {
		key := time.Unix(item.Dt, 0).In(loc).Format("2006/01/02")
		d, ok := days[key]
		if !ok {
			d = &day{min: item.Main.Temp, max: item.Main.Temp}
			if len(item.Weather) > 0 {
				d.cond = item.Weather[0]
			}
			days[key] = d
			order = append(order, key)
		}
		d.min = math.Min(d.min, item.Main.Temp)
		d.max = math.Max(d.max, item.Main.Temp)
	}
	sort.Strings(order)
	if len(order) > 5 {
		order = order[:5]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📅 %s, %s 5天天氣預報\n", geo.Name, geo.Country)
	for _, key := range order {
		d := days[key]
		fmt.Fprintf(&b, "\n%s %s %s\n", key, emojiFor(d.cond.Main), d.cond.Description)
		fmt.Fprintf(&b, "🌡️ %d°C ~ %d°C\n", round(d.min), round(d.max))
	}
	return strings.TrimSpace(b.String())
}

func round(v float64) int {
	return int(math.Round(v))
}

type weatherQueryTool struct{ client *WeatherClient }

// NewWeatherQueryTool 返回 weather_query 工具。
func NewWeatherQueryTool(client *WeatherClient) llm.Tool {
	return &weatherQueryTool{client: client}
}

func (t *weatherQueryTool) Name() string { return "weather_query" }

func (t *weatherQueryTool) Description() string {
	return "查詢指定城市的當前天氣資訊。輸入參數：城市名稱（中文或英文）"
}

func (t *weatherQueryTool) Call(ctx context.Context, input string) (string, error) {
	out, err := t.client.Current(ctx, input)
	if err != nil {
		log.Warnw("weather query failed", "city", input, "error", err)
		return fmt.Sprintf("抱歉，無法取得 %s 的天氣資訊：%v", input, err), nil
	}
	return out, nil
}

type weatherForecastTool struct{ client *WeatherClient }

// NewWeatherForecastTool 返回 weather_forecast 工具。
func NewWeatherForecastTool(client *WeatherClient) llm.Tool {
	return &weatherForecastTool{client: client}
}

func (t *weatherForecastTool) Name() string { return "weather_forecast" }

func (t *weatherForecastTool) Description() string {
	return "查詢指定城市的5天天氣預報。輸入參數：城市名稱（中文或英文）"
}

func (t *weatherForecastTool) Call(ctx context.Context, input string) (string, error) {
	out, err := t.client.Forecast(ctx, input)
	if err != nil {
		log.Warnw("weather forecast failed", "city", input, "error", err)
		return fmt.Sprintf("抱歉，無法取得 %s 的天氣預報：%v", input, err), nil
	}
	return out, nil
}
