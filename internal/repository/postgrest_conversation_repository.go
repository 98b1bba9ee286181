package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"line-smart-go/internal/config"
	"line-smart-go/internal/model"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"gorm.io/datatypes"
)

const (
	backendPostgREST  = "postgrest"
	conversationTable = "conversations"
	memoryTable       = "conversation_memory"
	statsPageSize     = 1000 // 与 PostgREST 默认的 max-rows 一致
)

// postgrestConversationRepository 通过 PostgREST 接口（Supabase 等托管 Postgres）实现 ConversationRepository。
type postgrestConversationRepository struct {
	baseURL  string
	apiKey   string
	schema   string
	pageSize int
	client   *http.Client
	now      func() time.Time
}

// PostgRESTError 是 PostgREST 返回的错误体。
type PostgRESTError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

func (e *PostgRESTError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("postgrest returned status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("postgrest returned status %d (%s): %s", e.Status, e.Code, e.Message)
}

// NewPostgRESTConversationRepository 创建一个新的 PostgREST 后端。
// cfg.URL 是 REST 根路径，例如 https://<project>.supabase.co/rest/v1。
func NewPostgRESTConversationRepository(cfg config.PostgRESTConfig) ConversationRepository {
	return newPostgRESTRepository(cfg, &http.Client{Timeout: cfg.Timeout})
}

func newPostgRESTRepository(cfg config.PostgRESTConfig, client *http.Client) *postgrestConversationRepository {
	schema := cfg.Schema
	if schema == "" {
		schema = "public"
	}
	return &postgrestConversationRepository{
		baseURL:  strings.TrimRight(cfg.URL, "/"),
		apiKey:   cfg.ServiceRoleKey,
		schema:   schema,
		pageSize: statsPageSize,
		client:   client,
		now:      time.Now,
	}
}

func (r *postgrestConversationRepository) Name() string {
	return backendPostgREST
}

// AppendTurn 插入一行并取回数据库生成的 id。
func (r *postgrestConversationRepository) AppendTurn(ctx context.Context, turn *model.ConversationTurn) error {
	if turn.Timestamp.IsZero() {
		turn.Timestamp = r.now().UTC()
	}
	body, err := json.Marshal([]*model.ConversationTurn{turn})
	if err != nil {
		return wrapErr(backendPostgREST, "append turn", fmt.Errorf("failed to marshal turn: %w", err))
	}
	var created []model.ConversationTurn
	err = r.do(ctx, http.MethodPost, conversationTable, nil, body, map[string]string{"Prefer": "return=representation"}, &created)
	if err != nil {
		return wrapErr(backendPostgREST, "append turn", err)
	}
	if len(created) > 0 {
		turn.ID = created[0].ID
	}
	return nil
}

// ReadHistory 按时间倒序取最近 limit 条，再翻转为升序。
func (r *postgrestConversationRepository) ReadHistory(ctx context.Context, userID, sessionID string, limit int) ([]model.ConversationTurn, error) {
	if limit <= 0 {
		return []model.ConversationTurn{}, nil
	}
	q := url.Values{}
	q.Set("select", "*")
	q.Set("user_id", "eq."+userID)
	q.Set("session_id", "eq."+sessionID)
	q.Set("order", "timestamp.desc,id.desc")
	q.Set("limit", strconv.Itoa(limit))

	var turns []model.ConversationTurn
	if err := r.do(ctx, http.MethodGet, conversationTable, q, nil, nil, &turns); err != nil {
		return nil, wrapErr(backendPostgREST, "read history", err)
	}
	if turns == nil {
		turns = []model.ConversationTurn{}
	}
	reverseTurns(turns)
	return turns, nil
}

// UpsertMemory 使用 on_conflict + merge-duplicates 实现覆盖写。
func (r *postgrestConversationRepository) UpsertMemory(ctx context.Context, userID, sessionID string, blob []byte) error {
	row := model.MemorySnapshot{
		UserID:     userID,
		SessionID:  sessionID,
		MemoryData: datatypes.JSON(blob),
		UpdatedAt:  r.now().UTC(),
	}
	body, err := json.Marshal([]model.MemorySnapshot{row})
	if err != nil {
		return wrapErr(backendPostgREST, "upsert memory", fmt.Errorf("failed to marshal memory: %w", err))
	}
	q := url.Values{}
	q.Set("on_conflict", "user_id,session_id")
	headers := map[string]string{"Prefer": "resolution=merge-duplicates,return=minimal"}
	return wrapErr(backendPostgREST, "upsert memory", r.do(ctx, http.MethodPost, memoryTable, q, body, headers, nil))
}

// ReadMemory 不使用单对象模式，空数组即表示不存在，避免 PGRST116。
func (r *postgrestConversationRepository) ReadMemory(ctx context.Context, userID, sessionID string) (*model.MemorySnapshot, error) {
	q := url.Values{}
	q.Set("select", "user_id,session_id,memory_data,updated_at")
	q.Set("user_id", "eq."+userID)
	q.Set("session_id", "eq."+sessionID)
	q.Set("limit", "1")

	var rows []model.MemorySnapshot
	if err := r.do(ctx, http.MethodGet, memoryTable, q, nil, nil, &rows); err != nil {
		return nil, wrapErr(backendPostgREST, "read memory", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (r *postgrestConversationRepository) DeleteMemory(ctx context.Context, userID, sessionID string) error {
	q := url.Values{}
	q.Set("user_id", "eq."+userID)
	q.Set("session_id", "eq."+sessionID)
	return wrapErr(backendPostgREST, "delete memory", r.do(ctx, http.MethodDelete, memoryTable, q, nil, nil, nil))
}

// AggregateStats 分页拉取 session_id 列并在本地去重计数。
// 总行数取自 Content-Range，服务端 max-rows 小于页大小时也能翻完所有页。
func (r *postgrestConversationRepository) AggregateStats(ctx context.Context, userID string) (model.ConversationStats, error) {
	sessions := map[string]struct{}{}
	offset := 0
	total := -1
	for {
		q := url.Values{}
		q.Set("select", "session_id")
		q.Set("user_id", "eq."+userID)
		q.Set("order", "id.asc")
		q.Set("limit", strconv.Itoa(r.pageSize))
		q.Set("offset", strconv.Itoa(offset))

		var rows []struct {
			SessionID string `json:"session_id"`
		}
		header, err := r.send(ctx, http.MethodGet, conversationTable, q, nil, map[string]string{"Prefer": "count=exact"}, &rows)
		if err != nil {
			return model.ConversationStats{}, wrapErr(backendPostgREST, "aggregate stats", err)
		}
		if n, ok := parseContentRangeTotal(header.Get("Content-Range")); ok {
			total = n
		}
		for _, row := range rows {
			sessions[row.SessionID] = struct{}{}
		}
		offset += len(rows)

		if len(rows) == 0 {
			break
		}
		if total >= 0 && offset >= total {
			break
		}
		// 没有总数时，短页即最后一页
		if total < 0 && len(rows) < r.pageSize {
			break
		}
	}

	count := int64(offset)
	if total > offset {
		count = int64(total)
	}
	return model.ConversationStats{
		DistinctSessionCount: int64(len(sessions)),
		TotalTurnCount:       count,
	}, nil
}

// parseContentRangeTotal 解析 "0-999/1500" 或 "*/0" 中的总数；"*" 表示未知。
func parseContentRangeTotal(v string) (int, bool) {
	i := strings.LastIndex(v, "/")
	if i < 0 {
		return 0, false
	}
	n, err := strconv.Atoi(v[i+1:])
	if err != nil {
		return 0, false
	}
	return n, true
}

// Close 释放空闲连接；HTTP 客户端本身无需关闭。
func (r *postgrestConversationRepository) Close() error {
	r.client.CloseIdleConnections()
	return nil
}

func (r *postgrestConversationRepository) do(ctx context.Context, method, table string, query url.Values, body []byte, headers map[string]string, out interface{}) error {
	_, err := r.send(ctx, method, table, query, body, headers, out)
	return err
}

// send 执行请求并返回响应头，供需要 Content-Range 的调用方使用。
func (r *postgrestConversationRepository) send(ctx context.Context, method, table string, query url.Values, body []byte, headers map[string]string, out interface{}) (http.Header, error) {
	endpoint := r.baseURL + "/" + table
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgrest request: %w", err)
	}
	req.Header.Set("apikey", r.apiKey)
	req.Header.Set("Authorization", "Bearer "+r.apiKey)
	req.Header.Set("Accept", "application/json")
	if method == http.MethodGet {
		req.Header.Set("Accept-Profile", r.schema)
	} else {
		req.Header.Set("Content-Profile", r.schema)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call postgrest: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read postgrest response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		pgErr := &PostgRESTError{Status: resp.StatusCode}
		if jsonErr := json.Unmarshal(respBody, pgErr); jsonErr != nil || pgErr.Message == "" {
			pgErr.Message = string(respBody)
		}
		return nil, pgErr
	}
	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return resp.Header, nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return nil, fmt.Errorf("failed to decode postgrest response: %w", err)
	}
	return resp.Header, nil
}
