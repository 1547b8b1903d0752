package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/Conversly/chat-gateway/internal/utils"
)

type weatherInput struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// WeatherTool fetches the current forecast from an Open-Meteo compatible API.
type WeatherTool struct {
	baseURL    string
	httpClient *http.Client
}

func NewWeatherTool(baseURL string, client *http.Client) *WeatherTool {
	return &WeatherTool{baseURL: strings.TrimSuffix(baseURL, "/"), httpClient: client}
}

func (t *WeatherTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "getWeather",
		Desc: "Get the current weather at a location",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"latitude":  {Type: schema.Number, Desc: "Latitude of the location", Required: true},
			"longitude": {Type: schema.Number, Desc: "Longitude of the location", Required: true},
		}),
	}, nil
}

func (t *WeatherTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...tool.Option) (string, error) {
	startTime := time.Now()

	var input weatherInput
	if err := json.Unmarshal([]byte(argumentsInJSON), &input); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	if input.Latitude == nil || input.Longitude == nil {
		return "", fmt.Errorf("latitude and longitude are required")
	}

	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(*input.Latitude, 'f', -1, 64))
	q.Set("longitude", strconv.FormatFloat(*input.Longitude, 'f', -1, 64))
	q.Set("current", "temperature_2m")
	q.Set("hourly", "temperature_2m")
	q.Set("daily", "sunrise,sunset")
	q.Set("timezone", "auto")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/v1/forecast?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("weather request failed with status %d: %s", resp.StatusCode, utils.Truncate(string(body), 200))
	}

	utils.Zlog.Info("Weather tool completed",
		zap.Float64("latitude", *input.Latitude),
		zap.Float64("longitude", *input.Longitude),
		zap.Duration("duration", time.Since(startTime)))

	return string(body), nil
}

var _ tool.InvokableTool = (*WeatherTool)(nil)
