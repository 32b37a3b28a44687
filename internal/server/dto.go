package server

import (
	"frequency/internal/domain"
	"frequency/internal/engine"
	"frequency/internal/progress"
)

// Request payloads

type CreateObjectiveRequest struct {
	Title       string              `json:"title"`
	Type        string              `json:"type" enum:"okr,goal"`
	Category    string              `json:"category,omitempty"`
	Description string              `json:"description,omitempty"`
	Initiatives []domain.Initiative `json:"initiatives,omitempty"`
}

type UpdateObjectiveRequest struct {
	Title       *string              `json:"title,omitempty"`
	Type        *string              `json:"type,omitempty" enum:"okr,goal"`
	Category    *string              `json:"category,omitempty"`
	Description *string              `json:"description,omitempty"`
	Initiatives *[]domain.Initiative `json:"initiatives,omitempty"`
}

// ReorderRequest moves the objective at From to To, both positions within the
// list filtered by Type and Category.
type ReorderRequest struct {
	Type     string `json:"type" enum:"okr,goal"`
	Category string `json:"category,omitempty"`
	From     int    `json:"from" minimum:"0"`
	To       int    `json:"to" minimum:"0"`
}

// IndexMoveRequest moves the item at From to To in a single flat list.
type IndexMoveRequest struct {
	From int `json:"from" minimum:"0"`
	To   int `json:"to" minimum:"0"`
}

type MoveObjectiveRequest struct {
	OverID string `json:"over_id"`
	View   string `json:"view,omitempty"`
}

type CreateKeyResultRequest struct {
	Title   string   `json:"title"`
	Type    string   `json:"type" enum:"leading,lagging,win_condition"`
	Current float64  `json:"current,omitempty" minimum:"0"`
	Target  *float64 `json:"target,omitempty" minimum:"0"`
	Unit    string   `json:"unit,omitempty"`
}

type UpdateKeyResultRequest struct {
	Title  *string  `json:"title,omitempty"`
	Target *float64 `json:"target,omitempty" minimum:"0"`
	Unit   *string  `json:"unit,omitempty"`
}

type ProgressRequest struct {
	Set   *float64 `json:"set,omitempty"`
	Delta *float64 `json:"delta,omitempty"`
}

type ConvertKeyResultRequest struct {
	Type string `json:"type" enum:"leading,lagging,win_condition"`
}

type LogWinRequest struct {
	Note              string   `json:"note"`
	AttributedTo      []string `json:"attributed_to,omitempty"`
	ObjectiveID       string   `json:"objective_id,omitempty"`
	KeyResultID       string   `json:"key_result_id,omitempty"`
	LinkedKeyResultID string   `json:"linked_key_result_id,omitempty"`
}

type CreatePersonRequest struct {
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

type CreateCategoryRequest struct {
	Name string `json:"name"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

type DevLoginRequest struct {
	Subject string `json:"subject"`
	Email   string `json:"email,omitempty"`
}

// Response payloads

type KeyResultResponse struct {
	domain.KeyResult
	Progress float64 `json:"progress"`
}

type ObjectiveResponse struct {
	ID          string               `json:"id"`
	Title       string               `json:"title"`
	Type        domain.ObjectiveType `json:"type" enum:"okr,goal"`
	Status      string               `json:"status"`
	Category    string               `json:"category"`
	Description string               `json:"description,omitempty"`
	Initiatives []domain.Initiative  `json:"initiatives"`
	Order       int                  `json:"order"`
	KeyResults  []KeyResultResponse  `json:"key_results"`
	Wins        []domain.WinLog      `json:"wins"`
	Progress    float64              `json:"progress"`
	TotalWins   int                  `json:"total_wins"`
	CreatedBy   string               `json:"created_by,omitempty"`
	CreatedAt   string               `json:"created_at" format:"date-time"`
	UpdatedAt   string               `json:"updated_at" format:"date-time"`
}

type ObjectiveListResponse struct {
	Items []ObjectiveResponse `json:"items"`
}

type KeyResultListResponse struct {
	Items []KeyResultResponse `json:"items"`
}

type NeighborsResponse struct {
	Prev string `json:"prev,omitempty"`
	Next string `json:"next,omitempty"`
}

type FeedResponse struct {
	Items []engine.FeedEntry `json:"items"`
}

type PeopleResponse struct {
	Items []domain.Person `json:"items"`
}

type CategoriesResponse struct {
	Items []domain.Category `json:"items"`
}

type DashboardResponse = progress.Summary

type UserResponse struct {
	ID         string `json:"id"`
	ExternalID string `json:"external_id"`
	Email      string `json:"email,omitempty"`
	Source     string `json:"source"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
	// Key is only returned once, on creation.
	Key string `json:"key,omitempty"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// ApiError documents the error envelope in OpenAPI.
type ApiError struct {
	Error apiErrorBody `json:"error"`
}

func keyResultResponse(kr domain.KeyResult) KeyResultResponse {
	if kr.WinLog == nil && kr.IsWinCondition() {
		kr.WinLog = []domain.WinLog{}
	}
	return KeyResultResponse{KeyResult: kr, Progress: progress.KeyResult(kr)}
}

func objectiveResponse(o domain.Objective) ObjectiveResponse {
	krs := make([]KeyResultResponse, 0, len(o.KeyResults))
	for _, kr := range o.KeyResults {
		krs = append(krs, keyResultResponse(kr))
	}
	if o.Initiatives == nil {
		o.Initiatives = []domain.Initiative{}
	}
	if o.Wins == nil {
		o.Wins = []domain.WinLog{}
	}
	return ObjectiveResponse{
		ID:          o.ID,
		Title:       o.Title,
		Type:        o.Type,
		Status:      o.Status,
		Category:    o.Category,
		Description: o.Description,
		Initiatives: o.Initiatives,
		Order:       o.Order,
		KeyResults:  krs,
		Wins:        o.Wins,
		Progress:    progress.Objective(o),
		TotalWins:   progress.TotalWins(o),
		CreatedBy:   o.CreatedBy,
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   o.UpdatedAt,
	}
}

func mapObjectives(items []domain.Objective) []ObjectiveResponse {
	res := make([]ObjectiveResponse, 0, len(items))
	for _, o := range items {
		res = append(res, objectiveResponse(o))
	}
	return res
}

func mapKeyResults(items []domain.KeyResult) []KeyResultResponse {
	res := make([]KeyResultResponse, 0, len(items))
	for _, kr := range items {
		res = append(res, keyResultResponse(kr))
	}
	return res
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    e.Payload,
	}
}

func apiKeyResponse(k domain.APIKey) APIKeyResponse {
	return APIKeyResponse{ID: k.ID, Name: k.Name, CreatedAt: k.CreatedAt}
}
