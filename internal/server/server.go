// Package server exposes the engine over a huma HTTP API.
package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"frequency/internal/domain"
	"frequency/internal/engine"
	"frequency/internal/engine/auth"
	"frequency/internal/metrics"
	"frequency/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	Repo     repo.Repo
	BasePath string
	Auth     AuthConfig
	Logger   *slog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"reorder_conflict"`
	Message string         `json:"message" example:"reorder not persisted, state reloaded"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Frequency API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = log
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(requestMetrics(log))
	router.Use(newAuthMiddleware(basePath, authenticator{
		cfg:   cfg.Auth,
		users: auth.Service{Users: cfg.Repo},
		keys:  cfg.Repo,
	}))
	hcfg := huma.DefaultConfig("Frequency API", "1.0.0")
	hcfg.OpenAPIPath = ""
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	router.Handle("/metrics", metrics.Handler())
	registerDocs(router, basePath)
	registerHealth(group)
	registerMe(group, cfg.Repo)
	if cfg.Auth.DevAuth {
		registerDevAuth(group, cfg.Auth)
	}
	registerObjectives(group, cfg.Engine)
	registerKeyResults(group, cfg.Engine)
	registerWins(group, cfg.Engine)
	registerPeople(group, cfg.Engine)
	registerCategories(group, cfg.Engine)
	registerDashboard(group, cfg.Engine)
	registerEvents(group, cfg.Repo)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

// requestMetrics records request durations by method and status.
func requestMetrics(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			elapsed := time.Since(start)
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, strconv.Itoa(status)).Observe(elapsed.Seconds())
			log.Debug("http request", "method", r.Method, "path", r.URL.Path, "status", status, "duration", elapsed)
		})
	}
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var re engine.ReconciledError
	if errors.As(err, &re) {
		details := map[string]any{}
		switch {
		case re.Objectives != nil:
			details["objectives"] = mapObjectives(re.Objectives)
		case re.KeyResults != nil:
			details["key_results"] = mapKeyResults(re.KeyResults)
		case re.Categories != nil:
			details["categories"] = re.Categories
		}
		return newAPIError(http.StatusConflict, "reorder_conflict", err.Error(), details)
	}
	var ve domain.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), map[string]any{"field": ve.Field})
	}
	var ue auth.UnauthenticatedError
	if errors.As(err, &ue) {
		return newAPIError(http.StatusUnauthorized, "unauthorized", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	r.Get(path.Join(basePath, "openapi.json"), func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			oas.Components.Schemas.Schema(reflect.TypeOf(ApiError{}), true, "ApiError")
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range operations(item) {
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func operations(item *huma.PathItem) []*huma.Operation {
	var ops []*huma.Operation
	for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
		if op != nil {
			ops = append(ops, op)
		}
	}
	return ops
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	open := map[string]bool{
		path.Join("/", basePath, "health"):         true,
		path.Join("/", basePath, "auth/dev/login"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range operations(item) {
			if open[route] {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Frequency API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

type objectiveOutput struct {
	Body ObjectiveResponse `json:"body"`
}

type objectiveListOutput struct {
	Body ObjectiveListResponse `json:"body"`
}

type keyResultOutput struct {
	Body KeyResultResponse `json:"body"`
}

type keyResultListOutput struct {
	Body KeyResultListResponse `json:"body"`
}

type idPath struct {
	ID string `path:"id"`
}

func registerObjectives(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-objectives",
		Method:      http.MethodGet,
		Path:        "/objectives",
		Summary:     "List objectives in display order",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type     string `query:"type" enum:"okr,goal"`
		Category string `query:"category"`
	}) (*objectiveListOutput, error) {
		items, err := e.ListObjectives(ctx, engine.ObjectiveQuery{
			Type:     domain.ObjectiveType(input.Type),
			Category: categoryView(input.Category),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &objectiveListOutput{Body: ObjectiveListResponse{Items: mapObjectives(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-objective",
		Method:        http.MethodPost,
		Path:          "/objectives",
		Summary:       "Create objective",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body CreateObjectiveRequest `json:"body"`
	}) (*objectiveOutput, error) {
		o, err := e.CreateObjective(ctx, engine.ObjectiveCreateOptions{
			Title:       input.Body.Title,
			Type:        domain.ObjectiveType(input.Body.Type),
			Category:    input.Body.Category,
			Description: input.Body.Description,
			Initiatives: input.Body.Initiatives,
			ActorID:     actorID(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &objectiveOutput{Body: objectiveResponse(o)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-objective",
		Method:      http.MethodGet,
		Path:        "/objectives/{id}",
		Summary:     "Get objective with key results and wins",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*objectiveOutput, error) {
		o, err := e.GetObjective(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &objectiveOutput{Body: objectiveResponse(o)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-objective",
		Method:      http.MethodPatch,
		Path:        "/objectives/{id}",
		Summary:     "Update objective",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string                 `path:"id"`
		Body UpdateObjectiveRequest `json:"body"`
	}) (*objectiveOutput, error) {
		opts := engine.ObjectiveUpdateOptions{
			ID:          input.ID,
			Title:       input.Body.Title,
			Category:    input.Body.Category,
			Description: input.Body.Description,
			Initiatives: input.Body.Initiatives,
			ActorID:     actorID(ctx),
		}
		if input.Body.Type != nil {
			typ := domain.ObjectiveType(*input.Body.Type)
			opts.Type = &typ
		}
		o, err := e.UpdateObjective(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &objectiveOutput{Body: objectiveResponse(o)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-objective",
		Method:        http.MethodDelete,
		Path:          "/objectives/{id}",
		Summary:       "Delete objective with its key results and wins",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*struct{}, error) {
		if err := e.DeleteObjective(ctx, input.ID, actorID(ctx)); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reorder-objectives",
		Method:      http.MethodPut,
		Path:        "/objectives/order",
		Summary:     "Move an objective within a filtered view",
		Description: "From and to index the view selected by type and category. Objectives outside the view keep their slots.",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body ReorderRequest `json:"body"`
	}) (*objectiveListOutput, error) {
		items, err := e.ReorderObjectives(ctx, engine.ReorderObjectivesOptions{
			Type:     domain.ObjectiveType(input.Body.Type),
			Category: categoryView(input.Body.Category),
			From:     input.Body.From,
			To:       input.Body.To,
			ActorID:  actorID(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &objectiveListOutput{Body: ObjectiveListResponse{Items: mapObjectives(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "move-objective",
		Method:      http.MethodPost,
		Path:        "/objectives/{id}/move",
		Summary:     "Drop an objective onto another",
		Description: "In the All view a drop across the privileged category boundary re-tags the objective.",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string               `path:"id"`
		Body MoveObjectiveRequest `json:"body"`
	}) (*objectiveListOutput, error) {
		items, err := e.MoveObjective(ctx, engine.MoveObjectiveOptions{
			ID:      input.ID,
			OverID:  input.Body.OverID,
			View:    input.Body.View,
			ActorID: actorID(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &objectiveListOutput{Body: ObjectiveListResponse{Items: mapObjectives(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "objective-neighbors",
		Method:      http.MethodGet,
		Path:        "/objectives/{id}/neighbors",
		Summary:     "Previous and next objective in a view",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID       string `path:"id"`
		Type     string `query:"type" enum:"okr,goal"`
		Category string `query:"category"`
	}) (*struct {
		Body NeighborsResponse `json:"body"`
	}, error) {
		prev, next, err := e.Neighbors(ctx, input.ID, engine.NeighborQuery{
			Type:     domain.ObjectiveType(input.Type),
			Category: categoryView(input.Category),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body NeighborsResponse `json:"body"`
		}{Body: NeighborsResponse{Prev: prev, Next: next}}, nil
	})
}

func registerKeyResults(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-key-result",
		Method:        http.MethodPost,
		Path:          "/objectives/{id}/key-results",
		Summary:       "Add a key result to an objective",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string                 `path:"id"`
		Body CreateKeyResultRequest `json:"body"`
	}) (*keyResultOutput, error) {
		kr, err := e.CreateKeyResult(ctx, engine.KeyResultCreateOptions{
			ObjectiveID: input.ID,
			Title:       input.Body.Title,
			Type:        domain.KeyResultType(input.Body.Type),
			Current:     input.Body.Current,
			Target:      input.Body.Target,
			Unit:        input.Body.Unit,
			ActorID:     actorID(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &keyResultOutput{Body: keyResultResponse(kr)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-key-result",
		Method:      http.MethodGet,
		Path:        "/key-results/{id}",
		Summary:     "Get key result",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*keyResultOutput, error) {
		kr, err := e.GetKeyResult(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &keyResultOutput{Body: keyResultResponse(kr)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-key-result",
		Method:      http.MethodPatch,
		Path:        "/key-results/{id}",
		Summary:     "Update key result title, target or unit",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string                 `path:"id"`
		Body UpdateKeyResultRequest `json:"body"`
	}) (*keyResultOutput, error) {
		kr, err := e.UpdateKeyResult(ctx, engine.KeyResultUpdateOptions{
			ID:      input.ID,
			Title:   input.Body.Title,
			Target:  input.Body.Target,
			Unit:    input.Body.Unit,
			ActorID: actorID(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &keyResultOutput{Body: keyResultResponse(kr)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "key-result-progress",
		Method:      http.MethodPost,
		Path:        "/key-results/{id}/progress",
		Summary:     "Set or move a metric key result's current value",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body ProgressRequest `json:"body"`
	}) (*keyResultOutput, error) {
		kr, err := e.SetProgress(ctx, engine.ProgressOptions{
			ID:      input.ID,
			Set:     input.Body.Set,
			Delta:   input.Body.Delta,
			ActorID: actorID(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &keyResultOutput{Body: keyResultResponse(kr)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "convert-key-result",
		Method:      http.MethodPost,
		Path:        "/key-results/{id}/convert",
		Summary:     "Change a key result's type",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string                  `path:"id"`
		Body ConvertKeyResultRequest `json:"body"`
	}) (*keyResultOutput, error) {
		kr, err := e.ConvertKeyResultType(ctx, input.ID, domain.KeyResultType(input.Body.Type), actorID(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &keyResultOutput{Body: keyResultResponse(kr)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-key-result",
		Method:        http.MethodDelete,
		Path:          "/key-results/{id}",
		Summary:       "Delete key result and its wins",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*struct{}, error) {
		if err := e.DeleteKeyResult(ctx, input.ID, actorID(ctx)); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reorder-key-results",
		Method:      http.MethodPut,
		Path:        "/objectives/{id}/key-results/order",
		Summary:     "Move a key result within its objective",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID   string           `path:"id"`
		Body IndexMoveRequest `json:"body"`
	}) (*keyResultListOutput, error) {
		items, err := e.ReorderKeyResults(ctx, input.ID, input.Body.From, input.Body.To, actorID(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &keyResultListOutput{Body: KeyResultListResponse{Items: mapKeyResults(items)}}, nil
	})
}

func registerWins(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "log-win",
		Method:        http.MethodPost,
		Path:          "/wins",
		Summary:       "Log a win against an objective or a win-condition key result",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body LogWinRequest `json:"body"`
	}) (*struct {
		Body domain.WinLog `json:"body"`
	}, error) {
		w, err := e.LogWin(ctx, engine.LogWinOptions{
			Note:              input.Body.Note,
			AttributedTo:      input.Body.AttributedTo,
			ObjectiveID:       input.Body.ObjectiveID,
			KeyResultID:       input.Body.KeyResultID,
			LinkedKeyResultID: input.Body.LinkedKeyResultID,
			ActorID:           actorID(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WinLog `json:"body"`
		}{Body: w}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-win",
		Method:        http.MethodDelete,
		Path:          "/wins/{id}",
		Summary:       "Delete a win",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*struct{}, error) {
		if err := e.DeleteWin(ctx, input.ID, actorID(ctx)); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "wins-feed",
		Method:      http.MethodGet,
		Path:        "/wins",
		Summary:     "Wins feed, newest first",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type     string `query:"type" enum:"okr,goal"`
		PersonID string `query:"person_id"`
		Limit    int    `query:"limit" minimum:"0"`
	}) (*struct {
		Body FeedResponse `json:"body"`
	}, error) {
		items, err := e.WinsFeed(ctx, engine.FeedQuery{
			Type:     domain.ObjectiveType(input.Type),
			PersonID: input.PersonID,
			Limit:    input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body FeedResponse `json:"body"`
		}{Body: FeedResponse{Items: items}}, nil
	})
}

func registerPeople(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-people",
		Method:      http.MethodGet,
		Path:        "/people",
		Summary:     "List people",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body PeopleResponse `json:"body"`
	}, error) {
		items, err := e.ListPeople(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PeopleResponse `json:"body"`
		}{Body: PeopleResponse{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-person",
		Method:        http.MethodPost,
		Path:          "/people",
		Summary:       "Add a person to the directory",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body CreatePersonRequest `json:"body"`
	}) (*struct {
		Body domain.Person `json:"body"`
	}, error) {
		p, err := e.CreatePerson(ctx, engine.PersonCreateOptions{
			Name:    input.Body.Name,
			Color:   input.Body.Color,
			ActorID: actorID(ctx),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Person `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-person",
		Method:        http.MethodDelete,
		Path:          "/people/{id}",
		Summary:       "Remove a person; their attributions stay",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*struct{}, error) {
		if err := e.DeletePerson(ctx, input.ID, actorID(ctx)); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerCategories(api huma.API, e engine.Engine) {
	type categoriesOutput struct {
		Body CategoriesResponse `json:"body"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "list-categories",
		Method:      http.MethodGet,
		Path:        "/categories",
		Summary:     "List categories in display order",
	}, func(ctx context.Context, _ *struct{}) (*categoriesOutput, error) {
		items, err := e.ListCategories(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &categoriesOutput{Body: CategoriesResponse{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-category",
		Method:        http.MethodPost,
		Path:          "/categories",
		Summary:       "Create category",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body CreateCategoryRequest `json:"body"`
	}) (*struct {
		Body domain.Category `json:"body"`
	}, error) {
		c, err := e.CreateCategory(ctx, input.Body.Name, actorID(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Category `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-category",
		Method:        http.MethodDelete,
		Path:          "/categories/{id}",
		Summary:       "Delete category; objectives keep their category text",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*struct{}, error) {
		if err := e.DeleteCategory(ctx, input.ID, actorID(ctx)); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reorder-categories",
		Method:      http.MethodPut,
		Path:        "/categories/order",
		Summary:     "Move a category",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body IndexMoveRequest `json:"body"`
	}) (*categoriesOutput, error) {
		items, err := e.ReorderCategories(ctx, input.Body.From, input.Body.To, actorID(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &categoriesOutput{Body: CategoriesResponse{Items: items}}, nil
	})
}

func registerDashboard(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "dashboard",
		Method:      http.MethodGet,
		Path:        "/dashboard",
		Summary:     "Totals and per-category progress",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type string `query:"type" enum:"okr,goal"`
	}) (*struct {
		Body DashboardResponse `json:"body"`
	}, error) {
		s, err := e.Dashboard(ctx, domain.ObjectiveType(input.Type))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DashboardResponse `json:"body"`
		}{Body: s}, nil
	})
}

func registerEvents(api huma.API, r repo.Repo) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"objective,key_result,win,person,category,user,api_key,workspace"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := r.LatestEvents(ctx, repo.EventFilter{
			Limit:      limit + 1,
			Cursor:     cursorID,
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func registerMe(api huma.API, r repo.Repo) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current user",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body UserResponse `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body UserResponse `json:"body"`
		}{Body: UserResponse{ID: p.UserID, ExternalID: p.ExternalID, Email: p.Email, Source: p.Source}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/me/api-keys",
		Summary:       "Create an API key for the current user",
		Description:   "The plaintext key is only returned in this response.",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body APIKeyResponse `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		plain, err := newAPIKey()
		if err != nil {
			return nil, handleError(err)
		}
		key := domain.APIKey{
			ID:      uuid.NewString(),
			UserID:  p.UserID,
			Name:    strings.TrimSpace(input.Body.Name),
			KeyHash: repo.HashAPIKey(plain),
		}
		if err := r.InsertAPIKey(ctx, key); err != nil {
			return nil, handleError(err)
		}
		resp := apiKeyResponse(key)
		resp.Key = plain
		return &struct {
			Body APIKeyResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/me/api-keys",
		Summary:     "List the current user's API keys",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []APIKeyResponse `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		keys, err := r.ListAPIKeys(ctx, p.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]APIKeyResponse, 0, len(keys))
		for _, k := range keys {
			out = append(out, apiKeyResponse(k))
		}
		return &struct {
			Body []APIKeyResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "revoke-api-key",
		Method:        http.MethodDelete,
		Path:          "/me/api-keys/{id}",
		Summary:       "Revoke one of the current user's API keys",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*struct{}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := r.RevokeAPIKey(ctx, input.ID, p.UserID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		subject := strings.TrimSpace(input.Body.Subject)
		if subject == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "subject is required", nil)
		}
		token, err := signDevToken(authCfg.JWTSecret, subject, strings.TrimSpace(input.Body.Email), 12*time.Hour)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

// categoryView maps the "All" pseudo-category onto the unfiltered view.
func categoryView(c string) string {
	c = strings.TrimSpace(c)
	if strings.EqualFold(c, engine.AllView) {
		return ""
	}
	return c
}

func newAPIKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "fq_" + hex.EncodeToString(buf), nil
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
