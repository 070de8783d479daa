package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"maincontrol/internal/calendar"
	"maincontrol/internal/domain"
	"maincontrol/internal/engine"
	"maincontrol/internal/logging"
	"maincontrol/internal/priority"
	"maincontrol/internal/repo"
	"maincontrol/internal/urgency"
)

const defaultActor = "api"

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Logger   *slog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_transition"`
	Message string         `json:"message" example:"invalid work order status transition shipped -> pending"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the maincontrol API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
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
	router.Use(requestLogger(logger.With("component", "http")))
	hcfg := huma.DefaultConfig("maincontrol API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerStatus(group, cfg.Engine)
	registerWorkOrders(group, cfg.Engine)
	registerQueue(group, cfg.Engine)
	registerSLA(group, cfg.Engine)
	registerCalendar(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	if err := registerOpenAPI(router, api, basePath); err != nil {
		return nil, err
	}

	return router, nil
}

// requestLogger logs one line per request once the response is written.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
			)
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
	var te engine.TransitionError
	if errors.As(err, &te) {
		return newAPIError(http.StatusConflict, "invalid_transition", err.Error(), map[string]any{"from": te.From, "to": te.To})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, engine.ErrInvalidInput) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
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
		io.WriteString(w, swaggerHTML(basePath))
	})
}

// registerOpenAPI must run after every operation is registered; the
// document is rendered once and served read-only.
func registerOpenAPI(r chi.Router, api huma.API, basePath string) error {
	oas := api.OpenAPI()
	ensureDefaultErrorResponses(oas)
	spec, err := json.Marshal(oas)
	if err != nil {
		return fmt.Errorf("render openapi: %w", err)
	}
	r.Get(path.Join(basePath, "openapi.json"), func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
	return nil
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
			if op == nil {
				continue
			}
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

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>maincontrol API Docs</title>
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

func registerStatus(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Work order counts per status",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body engine.StatusSummary `json:"body"`
	}, error) {
		st, err := e.Status(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.StatusSummary `json:"body"`
		}{Body: st}, nil
	})
}

func registerWorkOrders(api huma.API, e engine.Engine) {
	type workOrderOutput struct {
		Body domain.WorkOrder `json:"body"`
	}

	huma.Register(api, huma.Operation{
		OperationID: "create-work-order",
		Method:      http.MethodPost,
		Path:        "/work-orders",
		Summary:     "Create a work order",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ActorID string `header:"X-Actor-Id"`
		Body    CreateWorkOrderRequest
	}) (*workOrderOutput, error) {
		opts := engine.WorkOrderCreateOptions{
			ID:          stringOrEmpty(input.Body.ID),
			OrderNumber: input.Body.OrderNumber,
			Customer:    stringOrEmpty(input.Body.Customer),
			Region:      input.Body.Region,
			Fabric:      stringOrEmpty(input.Body.Fabric),
			DueDate:     stringOrEmpty(input.Body.DueDate),
			Notes:       stringOrEmpty(input.Body.Notes),
			ActorID:     actorOrDefault(input.ActorID),
		}
		if input.Body.Quantity != nil {
			opts.Quantity = *input.Body.Quantity
		}
		wo, err := e.CreateWorkOrder(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &workOrderOutput{Body: wo}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-work-orders",
		Method:      http.MethodGet,
		Path:        "/work-orders",
		Summary:     "List work orders",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" doc:"comma separated statuses"`
		Region string `query:"region"`
		Fabric string `query:"fabric"`
		Limit  int    `query:"limit" default:"50"`
	}) (*struct {
		Body WorkOrderList `json:"body"`
	}, error) {
		statuses, err := parseStatuses(input.Status)
		if err != nil {
			return nil, handleError(err)
		}
		items, err := e.ListWorkOrders(ctx, repo.WorkOrderFilters{
			Statuses: statuses,
			Region:   input.Region,
			Fabric:   input.Fabric,
			Limit:    normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkOrderList `json:"body"`
		}{Body: WorkOrderList{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-work-order",
		Method:      http.MethodGet,
		Path:        "/work-orders/{id}",
		Summary:     "Get a work order by id or order number",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*workOrderOutput, error) {
		wo, err := e.GetWorkOrder(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &workOrderOutput{Body: wo}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-work-order",
		Method:      http.MethodPatch,
		Path:        "/work-orders/{id}",
		Summary:     "Update a work order",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID      string `path:"id"`
		ActorID string `header:"X-Actor-Id"`
		Body    UpdateWorkOrderRequest
	}) (*workOrderOutput, error) {
		wo, err := e.UpdateWorkOrder(ctx, engine.WorkOrderUpdateOptions{
			ID:       input.ID,
			Status:   stringOrEmpty(input.Body.Status),
			Customer: input.Body.Customer,
			Region:   input.Body.Region,
			Fabric:   input.Body.Fabric,
			Quantity: input.Body.Quantity,
			DueDate:  input.Body.DueDate,
			Notes:    input.Body.Notes,
			ActorID:  actorOrDefault(input.ActorID),
			Force:    input.Body.Force,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &workOrderOutput{Body: wo}, nil
	})
}

func registerQueue(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "production-queue",
		Method:      http.MethodGet,
		Path:        "/queue",
		Summary:     "Ranked production queue",
		Description: "Ranks every active work order together, then applies the region filter and limit.",
	}, func(ctx context.Context, input *struct {
		Region string `query:"region"`
		Limit  int    `query:"limit" minimum:"0"`
	}) (*struct {
		Body QueueResponse `json:"body"`
	}, error) {
		items, err := e.ProductionQueue(ctx, engine.QueueOptions{Region: input.Region, Limit: input.Limit})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body QueueResponse `json:"body"`
		}{Body: QueueResponse{Items: items, Count: len(items), Now: e.Clock().Format(time.RFC3339)}}, nil
	})
}

func registerSLA(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-sla-regions",
		Method:      http.MethodGet,
		Path:        "/sla/regions",
		Summary:     "Regional SLA budgets",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body RegionList `json:"body"`
	}, error) {
		return &struct {
			Body RegionList `json:"body"`
		}{Body: RegionList{Items: e.Regions()}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-sla-region",
		Method:      http.MethodGet,
		Path:        "/sla/regions/{region}",
		Summary:     "SLA budget for a region",
		Description: "Unknown regions resolve to the DEFAULT budget.",
	}, func(ctx context.Context, input *struct {
		Region string `path:"region"`
	}) (*struct {
		Body RegionDetail `json:"body"`
	}, error) {
		region := unescapePath(input.Region)
		return &struct {
			Body RegionDetail `json:"body"`
		}{Body: RegionDetail{
			Region:          region,
			Budget:          e.Breakdown(region),
			UrgentThreshold: urgency.Threshold(e.SLA, region),
			CanaryRegion:    priority.IsCanaryRegion(region),
		}}, nil
	})
}

func registerCalendar(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "delivery-schedule",
		Method:      http.MethodGet,
		Path:        "/calendar/schedule",
		Summary:     "Project SLA milestones for a region",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Region string `query:"region"`
		Start  string `query:"start" doc:"defaults to today"`
	}) (*struct {
		Body ScheduleResponse `json:"body"`
	}, error) {
		var start time.Time
		if input.Start != "" {
			t, ok := calendar.ParseDate(input.Start, e.Config.Location())
			if !ok {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid start date", map[string]any{"start": input.Start})
			}
			start = t
		}
		return &struct {
			Body ScheduleResponse `json:"body"`
		}{Body: scheduleResponse(e.DeliverySchedule(start, input.Region))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "workdays-between",
		Method:      http.MethodGet,
		Path:        "/calendar/workdays",
		Summary:     "Signed workday count between two dates",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Start string `query:"start" required:"true"`
		End   string `query:"end" required:"true"`
	}) (*struct {
		Body WorkdaysResponse `json:"body"`
	}, error) {
		loc := e.Config.Location()
		start, ok := calendar.ParseDate(input.Start, loc)
		if !ok {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid start date", map[string]any{"start": input.Start})
		}
		end, ok := calendar.ParseDate(input.End, loc)
		if !ok {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid end date", map[string]any{"end": input.End})
		}
		return &struct {
			Body WorkdaysResponse `json:"body"`
		}{Body: WorkdaysResponse{
			Start:    calendar.FormatDate(start),
			End:      calendar.FormatDate(end),
			Workdays: calendar.WorkdaysBetween(start, end),
		}}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
	}, func(ctx context.Context, input *struct {
		EntityID string `query:"entity_id"`
		Limit    int    `query:"limit" default:"50"`
	}) (*struct {
		Body EventList `json:"body"`
	}, error) {
		items, err := e.LatestEvents(ctx, normalizeLimit(input.Limit), input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EventList `json:"body"`
		}{Body: EventList{Items: items}}, nil
	})
}

func parseStatuses(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		st := strings.TrimSpace(part)
		if st == "" {
			continue
		}
		if !domain.IsKnownStatus(st) {
			return nil, fmt.Errorf("%w: unknown status %s", engine.ErrInvalidInput, st)
		}
		out = append(out, st)
	}
	return out, nil
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 500 {
		return 500
	}
	return in
}

func actorOrDefault(actor string) string {
	if strings.TrimSpace(actor) == "" {
		return defaultActor
	}
	return strings.TrimSpace(actor)
}

func unescapePath(v string) string {
	if s, err := url.PathUnescape(v); err == nil {
		return s
	}
	return v
}
