package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"chantier/internal/domain"
	"chantier/internal/engine"
	"chantier/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"schedule_conflict"`
	Message string         `json:"message" example:"proposed range overlaps blockage"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Chantier API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Chantier API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerTasks(group, cfg.Engine)
	registerSchedule(group, cfg.Engine)
	registerDependencies(group, cfg.Engine)
	registerBlockages(group, cfg.Engine)
	registerReports(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
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
	var nfe engine.NotFoundError
	if errors.As(err, &nfe) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), map[string]any{"kind": nfe.Kind, "id": nfe.ID})
	}
	var sce engine.ScheduleConflictError
	if errors.As(err, &sce) {
		return newAPIError(http.StatusConflict, "schedule_conflict", err.Error(), map[string]any{
			"conflicts": sce.Result.Conflicts,
			"warnings":  sce.Result.Warnings,
		})
	}
	var ise engine.InvalidStateError
	if errors.As(err, &ise) {
		return newAPIError(http.StatusConflict, "invalid_state", err.Error(), map[string]any{
			"status":  ise.Status,
			"command": ise.Command,
		})
	}
	var cme engine.ConcurrentModificationError
	if errors.As(err, &cme) {
		return newAPIError(http.StatusConflict, "concurrent_modification", err.Error(), map[string]any{"task_id": cme.TaskID})
	}
	var cye engine.CycleError
	if errors.As(err, &cye) {
		return newAPIError(http.StatusConflict, "dependency_cycle", err.Error(), nil)
	}
	var ve engine.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
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
		fmt.Fprint(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
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
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
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
    <title>Chantier API Docs</title>
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

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.TaskCreateOptions{
			SiteID:       input.Body.SiteID,
			AffaireID:    input.Body.AffaireID,
			Title:        input.Body.Title,
			PlannedStart: input.Body.PlannedStart,
			PlannedEnd:   input.Body.PlannedEnd,
			ActorID:      actorID,
			Description:  stringOrEmpty(input.Body.Description),
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		if input.Body.ParentID != nil {
			opts.ParentID = *input.Body.ParentID
		}
		t, err := e.CreateTask(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		SiteID    string `query:"site_id"`
		AffaireID string `query:"affaire_id"`
		Status    string `query:"status"`
		Limit     int    `query:"limit" default:"50"`
		Cursor    string `query:"cursor"`
	}) (*struct {
		Body paginatedTasks `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		if input.Status != "" && !domain.Status(input.Status).IsValid() {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "unknown status "+input.Status, nil)
		}
		cursorCreated, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		items, err := e.Repo.ListTasks(ctx, repo.TaskFilters{
			SiteID:          input.SiteID,
			AffaireID:       input.AffaireID,
			Status:          input.Status,
			Limit:           limit + 1,
			CursorCreatedAt: cursorCreated,
			CursorID:        cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		next := ""
		if len(items) > limit {
			last := items[limit-1]
			next = composeCursor(last.CreatedAt, last.ID)
			items = items[:limit]
		}
		return &struct {
			Body paginatedTasks `json:"body"`
		}{Body: paginatedTasks{Items: mapTasks(items), NextCursor: next}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		t, err := e.GetTask(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	type taskPath struct {
		TaskID string `path:"task_id"`
	}
	type taskOut struct {
		Body TaskResponse `json:"body"`
	}
	transitionErrors := []int{
		http.StatusBadRequest,
		http.StatusNotFound,
		http.StatusConflict,
		http.StatusInternalServerError,
	}

	huma.Register(api, huma.Operation{
		OperationID: "start-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/start",
		Summary:     "Start task",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *taskPath) (*taskOut, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.StartTask(ctx, input.TaskID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &taskOut{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "suspend-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/suspend",
		Summary:     "Suspend task",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *struct {
		TaskID string             `path:"task_id"`
		Body   SuspendTaskRequest `json:"body"`
	}) (*taskOut, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.SuspendTask(ctx, engine.SuspendOptions{
			TaskID:  input.TaskID,
			Cause:   input.Body.Cause,
			ActorID: actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &taskOut{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resume-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/resume",
		Summary:     "Resume task",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *taskPath) (*taskOut, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.ResumeTask(ctx, input.TaskID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &taskOut{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delay-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/delay",
		Summary:     "Record delay",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *struct {
		TaskID string           `path:"task_id"`
		Body   DelayTaskRequest `json:"body"`
	}) (*taskOut, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.DelayTask(ctx, engine.DelayOptions{
			TaskID:    input.TaskID,
			Reason:    input.Body.Reason,
			TargetDay: input.Body.TargetDay,
			OpenClaim: input.Body.OpenClaim,
			ActorID:   actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &taskOut{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "extend-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/extend",
		Summary:     "Extend planned end",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *struct {
		TaskID string            `path:"task_id"`
		Body   ExtendTaskRequest `json:"body"`
	}) (*taskOut, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.ExtendTask(ctx, engine.ExtendOptions{
			TaskID:         input.TaskID,
			AdditionalDays: input.Body.AdditionalDays,
			Reason:         input.Body.Reason,
			ActorID:        actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &taskOut{Body: taskResponse(t)}, nil
	})
}

func registerSchedule(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "preview-schedule",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/schedule/preview",
		Summary:     "Preview schedule change",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string                `path:"task_id"`
		Body   ScheduleChangeRequest `json:"body"`
	}) (*struct {
		Body engine.ValidationResult `json:"body"`
	}, error) {
		res, err := e.PreviewScheduleChange(ctx, input.TaskID, input.Body.NewStart, input.Body.NewEnd)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.ValidationResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "commit-schedule",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/schedule",
		Summary:     "Commit schedule change",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		TaskID string                `path:"task_id"`
		Body   ScheduleChangeRequest `json:"body"`
	}) (*struct {
		Body ScheduleCommitResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, res, err := e.CommitScheduleChange(ctx, engine.CommitScheduleOptions{
			TaskID:   input.TaskID,
			NewStart: input.Body.NewStart,
			NewEnd:   input.Body.NewEnd,
			ActorID:  actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ScheduleCommitResponse `json:"body"`
		}{Body: ScheduleCommitResponse{Task: taskResponse(t), Result: res}}, nil
	})
}

func registerDependencies(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-dependency",
		Method:        http.MethodPost,
		Path:          "/dependencies",
		Summary:       "Create dependency",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateDependencyRequest `json:"body"`
	}) (*struct {
		Body DependencyResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		edge, err := e.CreateDependency(ctx, engine.DependencyOptions{
			PredecessorID: input.Body.PredecessorID,
			SuccessorID:   input.Body.SuccessorID,
			Kind:          domain.DependencyKind(input.Body.Kind),
			LagDays:       input.Body.LagDays,
			ActorID:       actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DependencyResponse `json:"body"`
		}{Body: dependencyResponse(edge)}, nil
	})
}

func registerBlockages(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-blockage",
		Method:        http.MethodPost,
		Path:          "/blockages",
		Summary:       "Declare blockage and cascade suspensions",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateBlockageRequest `json:"body"`
	}) (*struct {
		Body CascadeResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.ApplyBlockage(ctx, engine.BlockageOptions{
			Level:    domain.ScopeLevel(input.Body.Level),
			ScopeID:  input.Body.ScopeID,
			Cause:    input.Body.Cause,
			StartDay: input.Body.StartDay,
			EndDay:   input.Body.EndDay,
			ActorID:  actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CascadeResponse `json:"body"`
		}{Body: cascadeResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-blockages",
		Method:      http.MethodGet,
		Path:        "/blockages",
		Summary:     "List blockages",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Level   string `query:"level" enum:"site,affaire"`
		ScopeID string `query:"scope_id"`
	}) (*struct {
		Body []BlockageResponse `json:"body"`
	}, error) {
		items, err := e.ListBlockages(ctx, input.Level, input.ScopeID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]BlockageResponse, 0, len(items))
		for _, b := range items {
			out = append(out, blockageResponse(b))
		}
		return &struct {
			Body []BlockageResponse `json:"body"`
		}{Body: out}, nil
	})
}

func registerReports(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "submit-report",
		Method:      http.MethodPut,
		Path:        "/tasks/{task_id}/reports",
		Summary:     "Submit daily progress",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		TaskID string              `path:"task_id"`
		Body   SubmitReportRequest `json:"body"`
	}) (*struct {
		Body ReportResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rep, err := e.SubmitDailyProgress(ctx, engine.SubmitOptions{
			TaskID:      input.TaskID,
			Day:         input.Body.Day,
			Progress:    input.Body.Progress,
			Personnel:   input.Body.Personnel,
			Hours:       input.Body.Hours,
			Comment:     input.Body.Comment,
			DelayReason: input.Body.DelayReason,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReportResponse `json:"body"`
		}{Body: reportResponse(rep)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-report",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}/reports/{day}",
		Summary:     "Get a task's report for a day",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
		Day    string `path:"day"`
	}) (*struct {
		Body ReportResponse `json:"body"`
	}, error) {
		rep, err := e.GetDailyReport(ctx, input.TaskID, input.Day)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReportResponse `json:"body"`
		}{Body: reportResponse(rep)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-reports",
		Method:      http.MethodGet,
		Path:        "/reports/{day}",
		Summary:     "List unconfirmed reports for a day",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Day string `path:"day"`
	}) (*struct {
		Body []ReportResponse `json:"body"`
	}, error) {
		items, err := e.ListDailyReports(ctx, input.Day)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]ReportResponse, 0, len(items))
		for _, d := range items {
			out = append(out, reportResponse(d))
		}
		return &struct {
			Body []ReportResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "confirm-day",
		Method:      http.MethodPost,
		Path:        "/reports/{day}/confirm",
		Summary:     "Confirm a day's reports into the archive",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Day string `path:"day"`
	}) (*struct {
		Body engine.ConfirmResult `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.ConfirmDay(ctx, input.Day, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.ConfirmResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-archive",
		Method:      http.MethodGet,
		Path:        "/archive",
		Summary:     "Query the confirmed-report archive",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		TaskID string `query:"task_id"`
		Day    string `query:"day"`
		Limit  int    `query:"limit" default:"50"`
	}) (*struct {
		Body []ArchiveEntryResponse `json:"body"`
	}, error) {
		items, err := e.ListArchive(ctx, input.TaskID, input.Day, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]ArchiveEntryResponse, 0, len(items))
		for _, a := range items {
			out = append(out, archiveResponse(a))
		}
		return &struct {
			Body []ArchiveEntryResponse `json:"body"`
		}{Body: out}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		AffaireID  string `query:"affaire_id"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		items, err := e.Repo.LatestEvents(ctx, normalizeLimit(input.Limit), input.AffaireID, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]EventResponse, 0, len(items))
		for _, ev := range items {
			out = append(out, eventResponse(ev))
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: out}, nil
	})
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

func parseCompositeCursor(cursor string) (string, string, error) {
	if cursor == "" {
		return "", "", nil
	}
	parts := strings.SplitN(cursor, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid cursor")
	}
	return parts[0], parts[1], nil
}

func composeCursor(ts, id string) string {
	if ts == "" || id == "" {
		return ""
	}
	return ts + "|" + id
}

func stringOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
