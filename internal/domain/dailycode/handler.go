package dailycode

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/clinicops/clinicops/pkg/pagination"
)

type Handler struct {
	svc       *Service
	sched     *Scheduler
	validator *validator.Validate
}

// NewHandler wires the HTTP surface. sched may be nil, in which case the
// countdown is computed on demand.
func NewHandler(svc *Service, sched *Scheduler) *Handler {
	return &Handler{svc: svc, sched: sched, validator: validator.New()}
}

// RegisterRoutes mounts the routes under api. regenerateMW wraps only the
// regenerate route, which burns a sequence index per call.
func (h *Handler) RegisterRoutes(api *echo.Group, regenerateMW ...echo.MiddlewareFunc) {
	g := api.Group("/daily-code")
	g.GET("", h.GetToday)
	g.POST("/regenerate", h.Regenerate, regenerateMW...)
	g.GET("/countdown", h.Countdown)
	g.GET("/history", h.History)
	g.GET("/settings", h.GetSettings)
	g.PUT("/settings", h.SaveSettings)
	g.GET("/decode/:code", h.DecodeCode)
}

func (h *Handler) GetToday(c echo.Context) error {
	st, err := h.svc.Status(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handler) Regenerate(c echo.Context) error {
	a, err := h.svc.RegenerateToday(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, a.ToMap())
}

func (h *Handler) Countdown(c echo.Context) error {
	if h.sched != nil {
		return c.JSON(http.StatusOK, h.sched.Snapshot())
	}
	now := h.svc.Now()
	next := NextReset(now, h.svc.CachedPolicy(), h.svc.Location())
	return c.JSON(http.StatusOK, Snapshot{
		NextReset:         next,
		SecondsUntilReset: int64(next.Sub(now).Seconds()),
		CheckedAt:         now,
	})
}

func (h *Handler) History(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.History(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	out := make([]map[string]interface{}, len(items))
	for i, a := range items {
		out[i] = a.ToMap()
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(out, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL.Path))
}

func (h *Handler) GetSettings(c echo.Context) error {
	p := h.svc.ResetPolicy(c.Request().Context())
	return c.JSON(http.StatusOK, map[string]interface{}{
		"hour":     p.Hour,
		"minute":   p.Minute,
		"reset_at": p.String(),
		"timezone": h.svc.Location().String(),
	})
}

type saveSettingsRequest struct {
	Hour   *int `json:"hour" validate:"required,min=0,max=23"`
	Minute *int `json:"minute" validate:"required,min=0,max=59"`
}

func (h *Handler) SaveSettings(c echo.Context) error {
	var req saveSettingsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.validator.Struct(&req); err != nil {
		var details []string
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				details = append(details, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
			}
		} else {
			details = append(details, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, strings.Join(details, "; "))
	}
	p := ResetPolicy{Hour: *req.Hour, Minute: *req.Minute}
	if err := h.svc.SaveResetPolicy(c.Request().Context(), p); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"hour":     p.Hour,
		"minute":   p.Minute,
		"reset_at": p.String(),
		"timezone": h.svc.Location().String(),
	})
}

func (h *Handler) DecodeCode(c echo.Context) error {
	idx, err := Decode(Code(c.Param("code")))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"code":  strings.ToUpper(c.Param("code")),
		"index": idx,
	})
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidCode), errors.Is(err, ErrInvalidPolicy):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrMintRetriesExhausted):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrConfigurationSave):
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	case errors.Is(err, ErrStorageUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
