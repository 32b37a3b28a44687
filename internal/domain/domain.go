package domain

type ObjectiveType string

const (
	ObjectiveOKR  ObjectiveType = "okr"
	ObjectiveGoal ObjectiveType = "goal"
)

func (t ObjectiveType) Valid() bool {
	return t == ObjectiveOKR || t == ObjectiveGoal
}

type KeyResultType string

const (
	KeyResultLeading      KeyResultType = "leading"
	KeyResultLagging      KeyResultType = "lagging"
	KeyResultWinCondition KeyResultType = "win_condition"
)

func (t KeyResultType) Valid() bool {
	switch t {
	case KeyResultLeading, KeyResultLagging, KeyResultWinCondition:
		return true
	}
	return false
}

const (
	StatusActive = "active"

	// WinsUnit is the unit every win condition reports in.
	WinsUnit = "wins"
)

type Person struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Initials  string `json:"initials"`
	Color     string `json:"color"`
	CreatedAt string `json:"created_at" format:"date-time"`
	DeletedAt string `json:"deleted_at,omitempty" format:"date-time"`
}

type Category struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Order     int    `json:"order"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Initiative struct {
	Text string `json:"text"`
	URL  string `json:"url,omitempty"`
}

type Objective struct {
	ID          string        `json:"id"`
	Title       string        `json:"title"`
	Type        ObjectiveType `json:"type" enum:"okr,goal"`
	Status      string        `json:"status"`
	Category    string        `json:"category"`
	Description string        `json:"description,omitempty"`
	Initiatives []Initiative  `json:"initiatives"`
	Order       int           `json:"order"`
	KeyResults  []KeyResult   `json:"key_results"`
	Wins        []WinLog      `json:"wins"`
	CreatedBy   string        `json:"created_by,omitempty"`
	CreatedAt   string        `json:"created_at" format:"date-time"`
	UpdatedAt   string        `json:"updated_at" format:"date-time"`
}

type KeyResult struct {
	ID          string        `json:"id"`
	ObjectiveID string        `json:"objective_id"`
	Title       string        `json:"title"`
	Type        KeyResultType `json:"type" enum:"leading,lagging,win_condition"`
	Current     float64       `json:"current"`
	Target      float64       `json:"target"`
	Unit        string        `json:"unit"`
	Order       int           `json:"order"`
	WinLog      []WinLog      `json:"win_log,omitempty"`
	CreatedAt   string        `json:"created_at" format:"date-time"`
	UpdatedAt   string        `json:"updated_at" format:"date-time"`
}

func (kr KeyResult) IsWinCondition() bool {
	return kr.Type == KeyResultWinCondition
}

// WinLog belongs to exactly one of an objective or a key result.
type WinLog struct {
	ID           string   `json:"id"`
	Date         string   `json:"date" format:"date-time"`
	Note         string   `json:"note"`
	AttributedTo []string `json:"attributed_to"`
	ObjectiveID  string   `json:"objective_id,omitempty"`
	KeyResultID  string   `json:"key_result_id,omitempty"`
	CreatedBy    string   `json:"created_by,omitempty"`
}

type User struct {
	ID         string `json:"id"`
	ExternalID string `json:"external_id"`
	Email      string `json:"email,omitempty"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

// OrderUpdate is one entry of a batch reorder write. Category is set only when it changed.
type OrderUpdate struct {
	ID       string  `json:"id"`
	Order    int     `json:"order"`
	Category *string `json:"category,omitempty"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
