package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"crewline/internal/domain"
	"crewline/internal/engine"
	"crewline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine     engine.Engine
	BasePath   string
	Auth       AuthConfig
	CronSecret string
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_allowed"`
	Message string         `json:"message" example:"p1 is not assigned to this assignment"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Crewline API.
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
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	cronPath := path.Join(basePath, "cron/escalate")
	router.Use(newAuthMiddleware(basePath, []string{cronPath}, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Crewline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerAssignments(group, cfg.Engine)
	registerConfirmations(group, cfg.Engine)
	registerProgress(group, cfg.Engine)
	registerViews(group, cfg.Engine)
	registerEscalation(group, cfg.Engine, cfg.CronSecret)
	registerEvents(group, cfg.Engine)
	registerParticipants(group, cfg.Engine)
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
	if errors.Is(err, engine.ErrNotAllowed) {
		return newAPIError(http.StatusForbidden, "not_allowed", err.Error(), nil)
	}
	if errors.Is(err, engine.ErrStaleTransition) {
		return newAPIError(http.StatusConflict, "stale_transition", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid"),
		strings.Contains(lowered, "required"),
		strings.Contains(lowered, "must be"),
		strings.Contains(lowered, "must differ"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusForbidden:
		return "not_allowed"
	case http.StatusUnauthorized:
		return "unauthorized"
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
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			spec, _ = json.Marshal(api.OpenAPI())
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Crewline API Docs</title>
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

func registerAssignments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-assignment",
		Method:        http.MethodPost,
		Path:          "/assignments",
		Summary:       "Create assignment",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateAssignmentRequest `json:"body"`
	}) (*struct {
		Body domain.Assignment `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.CreateAssignment(ctx, engine.AssignmentCreateOptions{
			ID:          stringOrEmpty(input.Body.ID),
			PrimaryID:   input.Body.PrimaryID,
			SecondaryID: stringOrEmpty(input.Body.SecondaryID),
			Couple:      input.Body.Couple,
			Date:        input.Body.Date,
			StartTime:   input.Body.StartTime,
			ArrivalTime: stringOrEmpty(input.Body.ArrivalTime),
			Venue:       stringOrEmpty(input.Body.Venue),
			Location:    stringOrEmpty(input.Body.Location),
			Memo:        stringOrEmpty(input.Body.Memo),
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Assignment `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-assignments",
		Method:      http.MethodGet,
		Path:        "/assignments",
		Summary:     "List assignments",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Date          string `query:"date"`
		FromDate      string `query:"from"`
		Status        string `query:"status" enum:",unassigned,assigned,confirmed"`
		ParticipantID string `query:"participant_id"`
		Limit         int    `query:"limit"`
	}) (*struct {
		Body []domain.Assignment `json:"body"`
	}, error) {
		items, err := e.Repo.ListAssignments(ctx, repo.AssignmentFilters{
			Date:          input.Date,
			FromDate:      input.FromDate,
			Status:        input.Status,
			ParticipantID: input.ParticipantID,
			Limit:         input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Assignment `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-assignment",
		Method:      http.MethodGet,
		Path:        "/assignments/{assignment_id}",
		Summary:     "Get assignment",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AssignmentID string `path:"assignment_id"`
	}) (*struct {
		Body domain.Assignment `json:"body"`
	}, error) {
		a, err := e.Repo.GetAssignment(ctx, input.AssignmentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Assignment `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-assignment",
		Method:      http.MethodPatch,
		Path:        "/assignments/{assignment_id}",
		Summary:     "Update assignment",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		AssignmentID string                  `path:"assignment_id"`
		Body         UpdateAssignmentRequest `json:"body"`
	}) (*struct {
		Body domain.Assignment `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.UpdateAssignment(ctx, input.AssignmentID, engine.AssignmentUpdateOptions{
			PrimaryID:   input.Body.PrimaryID,
			SecondaryID: input.Body.SecondaryID,
			Couple:      input.Body.Couple,
			Date:        input.Body.Date,
			StartTime:   input.Body.StartTime,
			ArrivalTime: input.Body.ArrivalTime,
			Venue:       input.Body.Venue,
			Location:    input.Body.Location,
			Memo:        input.Body.Memo,
			Status:      input.Body.Status,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Assignment `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-assignment",
		Method:      http.MethodDelete,
		Path:        "/assignments/{assignment_id}",
		Summary:     "Delete assignment",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AssignmentID string `path:"assignment_id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteAssignment(ctx, input.AssignmentID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerConfirmations(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "confirm-assignments",
		Method:      http.MethodPost,
		Path:        "/assignments/confirm",
		Summary:     "Confirm one or more assignments",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		Body ConfirmRequest `json:"body"`
	}) (*struct {
		Body ConfirmResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if len(input.Body.AssignmentIDs) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "assignment_ids is required", nil)
		}
		participantID := actorID
		if input.Body.ParticipantID != nil && *input.Body.ParticipantID != "" {
			participantID = *input.Body.ParticipantID
		}
		results := e.ConfirmBatch(ctx, input.Body.AssignmentIDs, participantID, actorID)
		return &struct {
			Body ConfirmResponse `json:"body"`
		}{Body: ConfirmResponse{Results: results}}, nil
	})
}

func registerProgress(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-progress",
		Method:      http.MethodGet,
		Path:        "/assignments/{assignment_id}/progress",
		Summary:     "List progress records for an assignment",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AssignmentID string `path:"assignment_id"`
	}) (*struct {
		Body []domain.ProgressRecord `json:"body"`
	}, error) {
		items, err := e.ListProgress(ctx, input.AssignmentID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.ProgressRecord `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "report-progress",
		Method:      http.MethodPost,
		Path:        "/assignments/{assignment_id}/progress",
		Summary:     "Report a progress milestone",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		AssignmentID string                `path:"assignment_id"`
		Body         ReportProgressRequest `json:"body"`
	}) (*struct {
		Body domain.ProgressRecord `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		participantID := actorID
		if input.Body.ParticipantID != nil && *input.Body.ParticipantID != "" {
			participantID = *input.Body.ParticipantID
		}
		rec, err := e.ReportProgress(ctx, engine.ReportOptions{
			AssignmentID:  input.AssignmentID,
			ParticipantID: participantID,
			Status:        domain.ProgressStatus(input.Body.Status),
			Memo:          stringOrEmpty(input.Body.Memo),
			EstimatedTime: stringOrEmpty(input.Body.EstimatedTime),
			ActorID:       actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ProgressRecord `json:"body"`
		}{Body: rec}, nil
	})
}

func registerViews(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "today-assignments",
		Method:      http.MethodGet,
		Path:        "/assignments/today",
		Summary:     "Confirmed assignments for a date with progress",
	}, func(ctx context.Context, input *struct {
		Date          string `query:"date"`
		ParticipantID string `query:"participant_id"`
	}) (*struct {
		Body []engine.AssignmentView `json:"body"`
	}, error) {
		participantID := input.ParticipantID
		if participantID == "" {
			if p, ok := principalFromContext(ctx); ok {
				participantID = p.ActorID
			}
		}
		items, err := e.TodayAssignments(ctx, input.Date, participantID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []engine.AssignmentView `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assigned-assignments",
		Method:      http.MethodGet,
		Path:        "/assignments/assigned",
		Summary:     "Assignments awaiting the participant's confirmation",
	}, func(ctx context.Context, input *struct {
		ParticipantID string `query:"participant_id"`
	}) (*struct {
		Body []engine.PendingConfirmation `json:"body"`
	}, error) {
		participantID := input.ParticipantID
		if participantID == "" {
			actorID, authErr := actorIDFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			participantID = actorID
		}
		items, err := e.AssignedAssignments(ctx, participantID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []engine.PendingConfirmation `json:"body"`
		}{Body: items}, nil
	})
}

func registerEscalation(api huma.API, e engine.Engine, cronSecret string) {
	var running sync.Mutex
	huma.Register(api, huma.Operation{
		OperationID: "cron-escalate",
		Method:      http.MethodPost,
		Path:        "/cron/escalate",
		Summary:     "Run one escalation pass",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		Authorization string `header:"Authorization"`
		Now           string `query:"now" doc:"RFC3339 override of the pass time, for testing"`
	}) (*struct {
		Body engine.PassReport `json:"body"`
	}, error) {
		if cronSecret == "" {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "cron secret not configured", nil)
		}
		token, ok := bearerToken(input.Authorization)
		if !ok || token != cronSecret {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "invalid cron secret", nil)
		}
		var nowOverride *time.Time
		if input.Now != "" {
			ts, err := time.Parse(time.RFC3339, input.Now)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "now must be RFC3339", nil)
			}
			nowOverride = &ts
		}
		if !running.TryLock() {
			return nil, newAPIError(http.StatusConflict, "pass_running", "an escalation pass is already running", nil)
		}
		defer running.Unlock()
		report, err := e.RunEscalationPass(ctx, nowOverride)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.PassReport `json:"body"`
		}{Body: report}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Latest events",
	}, func(ctx context.Context, input *struct {
		Limit      int    `query:"limit"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		limit := input.Limit
		if limit <= 0 {
			limit = 50
		}
		items, err := e.Repo.LatestEvents(ctx, limit, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: items}, nil
	})
}

func registerParticipants(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-participant",
		Method:        http.MethodPost,
		Path:          "/participants",
		Summary:       "Create participant",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CreateParticipantRequest `json:"body"`
	}) (*struct {
		Body domain.Participant `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.CreateParticipant(ctx, stringOrEmpty(input.Body.ID), input.Body.Name, stringOrEmpty(input.Body.Phone), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Participant `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-participants",
		Method:      http.MethodGet,
		Path:        "/participants",
		Summary:     "List participants",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Participant `json:"body"`
	}, error) {
		items, err := e.Repo.ListParticipants(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Participant `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-participant",
		Method:      http.MethodGet,
		Path:        "/participants/{participant_id}",
		Summary:     "Get participant",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ParticipantID string `path:"participant_id"`
	}) (*struct {
		Body domain.Participant `json:"body"`
	}, error) {
		p, err := e.Repo.GetParticipant(ctx, input.ParticipantID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Participant `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "mint-api-key",
		Method:        http.MethodPost,
		Path:          "/participants/{participant_id}/keys",
		Summary:       "Mint an API key for a participant",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ParticipantID string            `path:"participant_id"`
		Body          MintAPIKeyRequest `json:"body"`
	}) (*struct {
		Body MintAPIKeyResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		k, plaintext, err := e.MintAPIKey(ctx, input.ParticipantID, stringOrEmpty(input.Body.Name), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MintAPIKeyResponse `json:"body"`
		}{Body: mintResponse(k, plaintext)}, nil
	})
}
