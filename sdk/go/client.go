package frequencysdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Frequency HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	// DevUser is sent as X-Frequency-User; servers ignore it unless dev auth is on.
	DevUser    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

type Initiative struct {
	Text string `json:"text"`
	URL  string `json:"url,omitempty"`
}

type Win struct {
	ID           string   `json:"id"`
	Date         string   `json:"date"`
	Note         string   `json:"note"`
	AttributedTo []string `json:"attributed_to"`
	ObjectiveID  string   `json:"objective_id,omitempty"`
	KeyResultID  string   `json:"key_result_id,omitempty"`
}

type KeyResult struct {
	ID          string  `json:"id"`
	ObjectiveID string  `json:"objective_id"`
	Title       string  `json:"title"`
	Type        string  `json:"type"`
	Current     float64 `json:"current"`
	Target      float64 `json:"target"`
	Unit        string  `json:"unit"`
	Order       int     `json:"order"`
	WinLog      []Win   `json:"win_log,omitempty"`
	Progress    float64 `json:"progress"`
}

type Objective struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Type        string       `json:"type"`
	Status      string       `json:"status"`
	Category    string       `json:"category"`
	Description string       `json:"description,omitempty"`
	Initiatives []Initiative `json:"initiatives"`
	Order       int          `json:"order"`
	KeyResults  []KeyResult  `json:"key_results"`
	Wins        []Win        `json:"wins"`
	Progress    float64      `json:"progress"`
	TotalWins   int          `json:"total_wins"`
}

// ObjectiveInput is the create payload. Use UpdateObjective with a map to patch.
type ObjectiveInput struct {
	Title       string       `json:"title,omitempty"`
	Type        string       `json:"type,omitempty"`
	Category    string       `json:"category,omitempty"`
	Description string       `json:"description,omitempty"`
	Initiatives []Initiative `json:"initiatives,omitempty"`
}

type KeyResultInput struct {
	Title   string   `json:"title"`
	Type    string   `json:"type"`
	Current float64  `json:"current,omitempty"`
	Target  *float64 `json:"target,omitempty"`
	Unit    string   `json:"unit,omitempty"`
}

type WinInput struct {
	Note              string   `json:"note"`
	AttributedTo      []string `json:"attributed_to,omitempty"`
	ObjectiveID       string   `json:"objective_id,omitempty"`
	KeyResultID       string   `json:"key_result_id,omitempty"`
	LinkedKeyResultID string   `json:"linked_key_result_id,omitempty"`
}

type Attribution struct {
	PersonID string `json:"person_id"`
	Name     string `json:"name"`
	Initials string `json:"initials,omitempty"`
	Color    string `json:"color,omitempty"`
	Removed  bool   `json:"removed,omitempty"`
}

type FeedEntry struct {
	Win            Win           `json:"win"`
	ObjectiveID    string        `json:"objective_id"`
	ObjectiveTitle string        `json:"objective_title"`
	ObjectiveType  string        `json:"objective_type"`
	Category       string        `json:"category"`
	KeyResultID    string        `json:"key_result_id,omitempty"`
	KeyResultTitle string        `json:"key_result_title,omitempty"`
	Attribution    []Attribution `json:"attribution"`
}

type Person struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Initials string `json:"initials"`
	Color    string `json:"color"`
}

type Category struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Order int    `json:"order"`
}

type CategoryStat struct {
	Name       string  `json:"name"`
	Objectives int     `json:"objectives"`
	Wins       int     `json:"wins"`
	Progress   float64 `json:"progress"`
}

type Dashboard struct {
	Objectives int            `json:"objectives"`
	KeyResults int            `json:"key_results"`
	Wins       int            `json:"wins"`
	Progress   float64        `json:"progress"`
	Categories []CategoryStat `json:"categories"`
}

type User struct {
	ID         string `json:"id"`
	ExternalID string `json:"external_id"`
	Email      string `json:"email,omitempty"`
	Source     string `json:"source"`
}

type APIKey struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at"`
	Key       string `json:"key,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses. Code and Message come from the error envelope.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// DevLogin mints a token on a server running with dev auth and stores it on the client.
func (c *Client) DevLogin(ctx context.Context, subject, email string) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "v1/auth/dev/login", map[string]any{"subject": subject, "email": email}, &resp); err != nil {
		return "", err
	}
	c.BearerToken = resp.Token
	return resp.Token, nil
}

func (c *Client) Me(ctx context.Context) (User, error) {
	var resp User
	err := c.do(ctx, http.MethodGet, "v1/me", nil, &resp)
	return resp, err
}

// CreateAPIKey returns the new key; its plaintext is only available here.
func (c *Client) CreateAPIKey(ctx context.Context, name string) (APIKey, error) {
	var resp APIKey
	err := c.do(ctx, http.MethodPost, "v1/me/api-keys", map[string]any{"name": name}, &resp)
	return resp, err
}

func (c *Client) RevokeAPIKey(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "v1/me/api-keys/"+url.PathEscape(id), nil, nil)
}

// ListObjectives returns objectives of a type, optionally narrowed to a category.
func (c *Client) ListObjectives(ctx context.Context, typ, category string) ([]Objective, error) {
	var resp struct {
		Items []Objective `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, withQuery("v1/objectives", "type", typ, "category", category), nil, &resp)
	return resp.Items, err
}

func (c *Client) CreateObjective(ctx context.Context, in ObjectiveInput) (Objective, error) {
	var resp Objective
	err := c.do(ctx, http.MethodPost, "v1/objectives", in, &resp)
	return resp, err
}

func (c *Client) GetObjective(ctx context.Context, id string) (Objective, error) {
	var resp Objective
	err := c.do(ctx, http.MethodGet, "v1/objectives/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// UpdateObjective sends a patch; keys absent from patch are left alone.
func (c *Client) UpdateObjective(ctx context.Context, id string, patch map[string]any) (Objective, error) {
	var resp Objective
	err := c.do(ctx, http.MethodPatch, "v1/objectives/"+url.PathEscape(id), patch, &resp)
	return resp, err
}

func (c *Client) DeleteObjective(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "v1/objectives/"+url.PathEscape(id), nil, nil)
}

// ReorderObjectives moves the objective at from to to within the (type, category) view.
func (c *Client) ReorderObjectives(ctx context.Context, typ, category string, from, to int) ([]Objective, error) {
	var resp struct {
		Items []Objective `json:"items"`
	}
	body := map[string]any{"type": typ, "from": from, "to": to}
	if category != "" {
		body["category"] = category
	}
	err := c.do(ctx, http.MethodPut, "v1/objectives/order", body, &resp)
	return resp.Items, err
}

// MoveObjective drops id onto overID in the given view ("" or "All" for the unfiltered view).
func (c *Client) MoveObjective(ctx context.Context, id, overID, view string) ([]Objective, error) {
	var resp struct {
		Items []Objective `json:"items"`
	}
	body := map[string]any{"over_id": overID}
	if view != "" {
		body["view"] = view
	}
	err := c.do(ctx, http.MethodPost, "v1/objectives/"+url.PathEscape(id)+"/move", body, &resp)
	return resp.Items, err
}

func (c *Client) Neighbors(ctx context.Context, id, typ, category string) (prev, next string, err error) {
	var resp struct {
		Prev string `json:"prev"`
		Next string `json:"next"`
	}
	err = c.do(ctx, http.MethodGet, withQuery("v1/objectives/"+url.PathEscape(id)+"/neighbors", "type", typ, "category", category), nil, &resp)
	return resp.Prev, resp.Next, err
}

func (c *Client) AddKeyResult(ctx context.Context, objectiveID string, in KeyResultInput) (KeyResult, error) {
	var resp KeyResult
	err := c.do(ctx, http.MethodPost, "v1/objectives/"+url.PathEscape(objectiveID)+"/key-results", in, &resp)
	return resp, err
}

func (c *Client) UpdateKeyResult(ctx context.Context, id string, patch map[string]any) (KeyResult, error) {
	var resp KeyResult
	err := c.do(ctx, http.MethodPatch, "v1/key-results/"+url.PathEscape(id), patch, &resp)
	return resp, err
}

// SetProgress sets current to an absolute value.
func (c *Client) SetProgress(ctx context.Context, id string, value float64) (KeyResult, error) {
	var resp KeyResult
	err := c.do(ctx, http.MethodPost, "v1/key-results/"+url.PathEscape(id)+"/progress", map[string]any{"set": value}, &resp)
	return resp, err
}

// AdjustProgress moves current by delta; the server floors it at zero.
func (c *Client) AdjustProgress(ctx context.Context, id string, delta float64) (KeyResult, error) {
	var resp KeyResult
	err := c.do(ctx, http.MethodPost, "v1/key-results/"+url.PathEscape(id)+"/progress", map[string]any{"delta": delta}, &resp)
	return resp, err
}

func (c *Client) ConvertKeyResult(ctx context.Context, id, typ string) (KeyResult, error) {
	var resp KeyResult
	err := c.do(ctx, http.MethodPost, "v1/key-results/"+url.PathEscape(id)+"/convert", map[string]any{"type": typ}, &resp)
	return resp, err
}

func (c *Client) DeleteKeyResult(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "v1/key-results/"+url.PathEscape(id), nil, nil)
}

func (c *Client) ReorderKeyResults(ctx context.Context, objectiveID string, from, to int) ([]KeyResult, error) {
	var resp struct {
		Items []KeyResult `json:"items"`
	}
	err := c.do(ctx, http.MethodPut, "v1/objectives/"+url.PathEscape(objectiveID)+"/key-results/order", map[string]any{"from": from, "to": to}, &resp)
	return resp.Items, err
}

func (c *Client) LogWin(ctx context.Context, in WinInput) (Win, error) {
	var resp Win
	err := c.do(ctx, http.MethodPost, "v1/wins", in, &resp)
	return resp, err
}

func (c *Client) DeleteWin(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "v1/wins/"+url.PathEscape(id), nil, nil)
}

// Feed returns wins newest first. Zero limit returns all of them.
func (c *Client) Feed(ctx context.Context, typ, personID string, limit int) ([]FeedEntry, error) {
	var resp struct {
		Items []FeedEntry `json:"items"`
	}
	lim := ""
	if limit > 0 {
		lim = fmt.Sprintf("%d", limit)
	}
	err := c.do(ctx, http.MethodGet, withQuery("v1/wins", "type", typ, "person_id", personID, "limit", lim), nil, &resp)
	return resp.Items, err
}

func (c *Client) ListPeople(ctx context.Context) ([]Person, error) {
	var resp struct {
		Items []Person `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "v1/people", nil, &resp)
	return resp.Items, err
}

func (c *Client) CreatePerson(ctx context.Context, name, color string) (Person, error) {
	var resp Person
	body := map[string]any{"name": name}
	if color != "" {
		body["color"] = color
	}
	err := c.do(ctx, http.MethodPost, "v1/people", body, &resp)
	return resp, err
}

func (c *Client) DeletePerson(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "v1/people/"+url.PathEscape(id), nil, nil)
}

func (c *Client) ListCategories(ctx context.Context) ([]Category, error) {
	var resp struct {
		Items []Category `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "v1/categories", nil, &resp)
	return resp.Items, err
}

func (c *Client) CreateCategory(ctx context.Context, name string) (Category, error) {
	var resp Category
	err := c.do(ctx, http.MethodPost, "v1/categories", map[string]any{"name": name}, &resp)
	return resp, err
}

func (c *Client) DeleteCategory(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "v1/categories/"+url.PathEscape(id), nil, nil)
}

func (c *Client) ReorderCategories(ctx context.Context, from, to int) ([]Category, error) {
	var resp struct {
		Items []Category `json:"items"`
	}
	err := c.do(ctx, http.MethodPut, "v1/categories/order", map[string]any{"from": from, "to": to}, &resp)
	return resp.Items, err
}

func (c *Client) Dashboard(ctx context.Context, typ string) (Dashboard, error) {
	var resp Dashboard
	err := c.do(ctx, http.MethodGet, withQuery("v1/dashboard", "type", typ), nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing, newest first.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	lim := ""
	if limit > 0 {
		lim = fmt.Sprintf("%d", limit)
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, withQuery("v1/events", "limit", lim, "cursor", cursor), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	case c.DevUser != "":
		req.Header.Set("X-Frequency-User", c.DevUser)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string         `json:"code"`
				Message string         `json:"message"`
				Details map[string]any `json:"details"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
			apiErr.Details = envelope.Error.Details
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// withQuery appends the non-empty key/value pairs to endpoint.
func withQuery(endpoint string, kv ...string) string {
	q := url.Values{}
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i+1] != "" {
			q.Set(kv[i], kv[i+1])
		}
	}
	if len(q) == 0 {
		return endpoint
	}
	return endpoint + "?" + q.Encode()
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
