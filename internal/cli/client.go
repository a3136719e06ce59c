package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// TaskResponse — task из API.
type TaskResponse struct {
	ID           string `json:"id"`
	OwnerID      string `json:"owner_id"`
	Scene        string `json:"scene"`
	Input        string `json:"input,omitempty"`
	Status       string `json:"status"`
	QuotaCharged bool   `json:"quota_charged"`
	PeriodKey    string `json:"period_key"`
	StartedAt    string `json:"started_at,omitempty"`
	FinishedAt   string `json:"finished_at,omitempty"`
	Error        string `json:"error,omitempty"`
	CreatedAt    string `json:"created_at"`
}

// ProgressEventResponse — событие прогресса из API.
type ProgressEventResponse struct {
	TaskID    string `json:"task_id"`
	Sequence  int64  `json:"sequence"`
	Kind      string `json:"kind"`
	Phase     string `json:"phase,omitempty"`
	Progress  int    `json:"progress"`
	Message   string `json:"message,omitempty"`
	EmittedAt string `json:"emitted_at"`
}

// QuotaResponse — состояние квоты из API.
type QuotaResponse struct {
	UserID    string `json:"user_id"`
	PeriodKey string `json:"period_key"`
	Used      int    `json:"used"`
	Quota     int    `json:"quota"`
	Remaining int    `json:"remaining"`
}

// --- Request types ---

// CreateTaskRequest — создание task.
type CreateTaskRequest struct {
	Scene string `json:"scene"`
	Input string `json:"input,omitempty"`
}

// ListTasksOpts — параметры выборки tasks.
type ListTasksOpts struct {
	Limit  int
	Offset int
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Used    int    `json:"used,omitempty"`
		Quota   int    `json:"quota,omitempty"`
	} `json:"error"`
}

// --- Client ---

// Client — HTTP-клиент для JexAgent API.
// Все запросы подписываются заголовком X-User-ID.
type Client struct {
	baseURL    string
	userID     string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL, userID string) *Client {
	return &Client{
		baseURL: baseURL,
		userID:  userID,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Tasks ---

// CreateTask создаёт новый task.
func (c *Client) CreateTask(req CreateTaskRequest) (*TaskResponse, error) {
	var task TaskResponse
	err := c.post("/api/v1/tasks", req, &task)
	return &task, err
}

// ListTasks возвращает tasks текущего пользователя.
func (c *Client) ListTasks(opts ListTasksOpts) ([]TaskResponse, error) {
	params := url.Values{}
	if opts.Limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", opts.Limit))
	}
	if opts.Offset > 0 {
		params.Set("offset", fmt.Sprintf("%d", opts.Offset))
	}

	var tasks []TaskResponse
	err := c.list("/api/v1/tasks", params, &tasks)
	return tasks, err
}

// GetTask возвращает task по ID.
func (c *Client) GetTask(id string) (*TaskResponse, error) {
	var task TaskResponse
	err := c.get("/api/v1/tasks/"+id, &task)
	return &task, err
}

// CancelTask отменяет task.
func (c *Client) CancelTask(id string) (*TaskResponse, error) {
	var task TaskResponse
	err := c.post("/api/v1/tasks/"+id+"/cancel", nil, &task)
	return &task, err
}

// GetProgress возвращает историю событий task'а.
func (c *Client) GetProgress(id string) ([]ProgressEventResponse, error) {
	var events []ProgressEventResponse
	err := c.list("/api/v1/tasks/"+id+"/progress", nil, &events)
	return events, err
}

// --- Quota ---

// GetQuota возвращает состояние квоты текущего пользователя.
func (c *Client) GetQuota() (*QuotaResponse, error) {
	var quota QuotaResponse
	err := c.get("/api/v1/quota", &quota)
	return &quota, err
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("X-User-ID", c.userID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return fmt.Errorf("API error: HTTP %d", resp.StatusCode)
	}

	if er.Error.Code == "QUOTA_EXCEEDED" {
		return fmt.Errorf("%s: %s (%d/%d)", er.Error.Code, er.Error.Message, er.Error.Used, er.Error.Quota)
	}
	return fmt.Errorf("%s: %s", er.Error.Code, er.Error.Message)
}
