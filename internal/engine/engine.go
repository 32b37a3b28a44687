// Package engine is the lifecycle manager: objective, key result, win, people
// and category operations, built on a Store and reporting failures as typed errors.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"frequency/internal/config"
	"frequency/internal/domain"
	"frequency/internal/metrics"
	"frequency/internal/repo"
)

// Store is the data-access interface the engine runs on. repo.Repo implements it.
type Store interface {
	ListObjectives(ctx context.Context, f repo.ObjectiveFilter) ([]domain.Objective, error)
	GetObjective(ctx context.Context, id string) (domain.Objective, error)
	MaxObjectiveOrder(ctx context.Context, typ domain.ObjectiveType) (int, error)
	InsertObjective(ctx context.Context, o domain.Objective, actorID string) error
	UpdateObjective(ctx context.Context, o domain.Objective, actorID string) error
	DeleteObjective(ctx context.Context, id, actorID string) error
	UpdateObjectivesOrder(ctx context.Context, updates []domain.OrderUpdate, actorID string) error

	GetKeyResult(ctx context.Context, id string) (domain.KeyResult, error)
	MaxKeyResultOrder(ctx context.Context, objectiveID string) (int, error)
	InsertKeyResult(ctx context.Context, kr domain.KeyResult, actorID string) error
	UpdateKeyResult(ctx context.Context, kr domain.KeyResult, actorID string) error
	UpdateKeyResultProgress(ctx context.Context, id string, current float64, actorID string) error
	DeleteKeyResult(ctx context.Context, id, actorID string) error
	UpdateKeyResultsOrder(ctx context.Context, objectiveID string, updates []domain.OrderUpdate, actorID string) error

	InsertWinLog(ctx context.Context, w domain.WinLog, actorID string) error
	GetWinLog(ctx context.Context, id string) (domain.WinLog, error)
	DeleteWinLog(ctx context.Context, id, actorID string) error

	ListPeople(ctx context.Context, includeDeleted bool) ([]domain.Person, error)
	InsertPerson(ctx context.Context, p domain.Person, actorID string) error
	DeletePerson(ctx context.Context, id, actorID string) error

	ListCategories(ctx context.Context) ([]domain.Category, error)
	InsertCategory(ctx context.Context, c domain.Category, actorID string) (domain.Category, error)
	DeleteCategory(ctx context.Context, id, actorID string) error
	UpdateCategoriesOrder(ctx context.Context, updates []domain.OrderUpdate, actorID string) error
}

var _ Store = repo.Repo{}

type Engine struct {
	Store  Store
	Config *config.Config
	Log    *slog.Logger
	Now    func() time.Time
	NewID  func() string
}

func New(store Store, cfg *config.Config, log *slog.Logger) Engine {
	if log == nil {
		log = slog.Default()
	}
	return Engine{
		Store:  store,
		Config: cfg,
		Log:    log,
		Now:    time.Now,
		NewID:  uuid.NewString,
	}
}

func (e Engine) now() string {
	if e.Now != nil {
		return e.Now().UTC().Format(time.RFC3339)
	}
	return time.Now().UTC().Format(time.RFC3339)
}

func (e Engine) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

func (e Engine) logger() *slog.Logger {
	if e.Log != nil {
		return e.Log
	}
	return slog.Default()
}

func (e Engine) config() *config.Config {
	if e.Config != nil {
		return e.Config
	}
	return config.Default("frequency")
}

// PersistenceError wraps a Store failure with the operation that hit it.
type PersistenceError struct {
	Op  string
	Err error
}

func (e PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e PersistenceError) Unwrap() error { return e.Err }

// ReconciledError is returned when a reorder batch failed to persist. The
// authoritative state was re-fetched and replaces any optimistic local order.
type ReconciledError struct {
	Err        error
	Objectives []domain.Objective
	KeyResults []domain.KeyResult
	Categories []domain.Category
}

func (e ReconciledError) Error() string {
	return fmt.Sprintf("reorder not persisted, state reloaded: %v", e.Err)
}

func (e ReconciledError) Unwrap() error { return e.Err }

// persistErr logs a Store failure and wraps it. Validation errors raised by the
// store pass through untouched.
func (e Engine) persistErr(op string, err error, attrs ...any) error {
	if err == nil {
		return nil
	}
	var verr domain.ValidationError
	if errors.As(err, &verr) {
		return verr
	}
	level := slog.LevelError
	if errors.Is(err, repo.ErrNotFound) {
		level = slog.LevelDebug
	} else {
		metrics.StoreErrors.WithLabelValues(op).Inc()
	}
	e.logger().Log(context.Background(), level, "store call failed", append([]any{"op", op, "err", err}, attrs...)...)
	return PersistenceError{Op: op, Err: err}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// check runs struct validation and reports the first failure as a ValidationError.
func check(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fields validator.ValidationErrors
	if !errors.As(err, &fields) || len(fields) == 0 {
		return err
	}
	fe := fields[0]
	switch fe.Tag() {
	case "required":
		return domain.Invalid(fe.Field(), "is required")
	case "oneof":
		return domain.Invalid(fe.Field(), "must be one of "+fe.Param())
	case "gte":
		return domain.Invalid(fe.Field(), "must be at least "+fe.Param())
	case "min":
		return domain.Invalid(fe.Field(), "must have at least "+fe.Param()+" entries")
	default:
		return domain.Invalid(fe.Field(), "is invalid")
	}
}
