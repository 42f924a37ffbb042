// Package api exposes the tracker importers over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/hmis/tracker/internal/domain/metadata"
	"github.com/hmis/tracker/internal/importer"
	"github.com/hmis/tracker/internal/importer/job"
	"github.com/hmis/tracker/internal/platform/auth"
	"github.com/hmis/tracker/internal/platform/notifier"
)

type TrackedEntityService interface {
	ImportTrackedEntityInstances(ctx context.Context, teis []*importer.TrackedEntityInstance, opts *importer.ImportOptions) (*importer.ImportSummaries, error)
	UpdateTrackedEntityInstance(ctx context.Context, tei *importer.TrackedEntityInstance, opts *importer.ImportOptions) (*importer.ImportSummary, error)
	DeleteTrackedEntityInstance(ctx context.Context, uid string, opts *importer.ImportOptions) (*importer.ImportSummary, error)
}

type EnrollmentService interface {
	ImportEnrollments(ctx context.Context, enrollments []*importer.Enrollment, opts *importer.ImportOptions) (*importer.ImportSummaries, error)
	UpdateEnrollment(ctx context.Context, e *importer.Enrollment, opts *importer.ImportOptions) (*importer.ImportSummary, error)
	DeleteEnrollment(ctx context.Context, uid string, opts *importer.ImportOptions) (*importer.ImportSummary, error)
}

// TasksPath is where async jobs are polled.
const TasksPath = "/api/v1/system/tasks/"

type Handler struct {
	teis        TrackedEntityService
	enrollments EnrollmentService
	runner      *job.Runner
	tasks       notifier.Notifier
	validate    *validator.Validate
}

func NewHandler(teis TrackedEntityService, enrollments EnrollmentService, runner *job.Runner, tasks notifier.Notifier) *Handler {
	return &Handler{
		teis:        teis,
		enrollments: enrollments,
		runner:      runner,
		tasks:       tasks,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	write := api.Group("", auth.RequireAuthority(auth.AuthorityTrackerImport))
	write.POST("/trackedEntityInstances", h.ImportTrackedEntityInstances)
	write.PUT("/trackedEntityInstances/:id", h.UpdateTrackedEntityInstance)
	write.DELETE("/trackedEntityInstances/:id", h.DeleteTrackedEntityInstance)
	write.POST("/enrollments", h.ImportEnrollments)
	write.PUT("/enrollments/:id", h.UpdateEnrollment)
	write.DELETE("/enrollments/:id", h.DeleteEnrollment)

	api.GET("/system/tasks/:id", h.GetTask)
}

// -- Tracked entity instances --

func (h *Handler) ImportTrackedEntityInstances(c echo.Context) error {
	opts, err := ParseOptions(c)
	if err != nil {
		return err
	}
	var body importer.TrackedEntityInstances
	if err := h.bind(c, &body); err != nil {
		return err
	}
	return h.runJob(c, job.TypeTrackedEntityImport, opts, func(ctx context.Context) (*importer.ImportSummaries, error) {
		return h.teis.ImportTrackedEntityInstances(ctx, body.TrackedEntityInstances, opts)
	})
}

func (h *Handler) UpdateTrackedEntityInstance(c echo.Context) error {
	opts, err := ParseOptions(c)
	if err != nil {
		return err
	}
	var tei importer.TrackedEntityInstance
	if err := h.bind(c, &tei); err != nil {
		return err
	}
	tei.TrackedEntityInstance = c.Param("id")
	s, err := h.teis.UpdateTrackedEntityInstance(c.Request().Context(), &tei, opts)
	return respondSummary(c, s, err)
}

func (h *Handler) DeleteTrackedEntityInstance(c echo.Context) error {
	opts, err := ParseOptions(c)
	if err != nil {
		return err
	}
	s, err := h.teis.DeleteTrackedEntityInstance(c.Request().Context(), c.Param("id"), opts)
	return respondSummary(c, s, err)
}

// -- Enrollments --

func (h *Handler) ImportEnrollments(c echo.Context) error {
	opts, err := ParseOptions(c)
	if err != nil {
		return err
	}
	var body importer.Enrollments
	if err := h.bind(c, &body); err != nil {
		return err
	}
	return h.runJob(c, job.TypeEnrollmentImport, opts, func(ctx context.Context) (*importer.ImportSummaries, error) {
		return h.enrollments.ImportEnrollments(ctx, body.Enrollments, opts)
	})
}

func (h *Handler) UpdateEnrollment(c echo.Context) error {
	opts, err := ParseOptions(c)
	if err != nil {
		return err
	}
	var e importer.Enrollment
	if err := h.bind(c, &e); err != nil {
		return err
	}
	e.Enrollment = c.Param("id")
	s, err := h.enrollments.UpdateEnrollment(c.Request().Context(), &e, opts)
	return respondSummary(c, s, err)
}

func (h *Handler) DeleteEnrollment(c echo.Context) error {
	opts, err := ParseOptions(c)
	if err != nil {
		return err
	}
	s, err := h.enrollments.DeleteEnrollment(c.Request().Context(), c.Param("id"), opts)
	return respondSummary(c, s, err)
}

// -- Tasks --

func (h *Handler) GetTask(c echo.Context) error {
	task, err := h.tasks.Task(c.Request().Context(), c.Param("id"))
	if errors.Is(err, notifier.ErrTaskNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "task not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, task)
}

func (h *Handler) bind(c echo.Context, dst any) error {
	if err := c.Bind(dst); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	if err := h.validate.Struct(dst); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

// runJob runs fn through the job runner. Async requests get 202 with the
// task location; synchronous ones get the summaries, with 409 when the
// batch status is ERROR.
func (h *Handler) runJob(c echo.Context, jobType job.Type, opts *importer.ImportOptions, fn job.Func) error {
	if opts.Async {
		id, err := h.runner.Submit(c.Request().Context(), jobType, fn)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		location := TasksPath + id
		c.Response().Header().Set("Content-Location", location)
		return c.JSON(http.StatusAccepted, map[string]string{"id": id, "location": location})
	}
	summaries := h.runner.Run(c.Request().Context(), "", jobType, fn)
	status := http.StatusOK
	if summaries.Status == importer.StatusError {
		status = http.StatusConflict
	}
	return c.JSON(status, summaries)
}

func respondSummary(c echo.Context, s *importer.ImportSummary, err error) error {
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	status := http.StatusOK
	if s.IsError() {
		status = http.StatusConflict
	}
	return c.JSON(status, s)
}

// ParseOptions reads the import options from the query string. The acting
// user comes from the request context.
func ParseOptions(c echo.Context) (*importer.ImportOptions, error) {
	opts := importer.DefaultImportOptions()
	opts.User = auth.UserFromContext(c.Request().Context())
	opts.Program = c.QueryParam("program")

	strategy := c.QueryParam("strategy")
	if strategy == "" {
		strategy = c.QueryParam("importStrategy")
	}
	st, err := importer.ParseImportStrategy(strategy)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	opts.Strategy = st

	for name, dst := range map[string]*bool{
		"async":                 &opts.Async,
		"skipPatternValidation": &opts.SkipPatternValidation,
		"ignoreEmptyCollection": &opts.IgnoreEmptyCollection,
	} {
		raw := c.QueryParam(name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid value for "+name+": "+raw)
		}
		*dst = v
	}

	for name, dst := range map[string]*metadata.IDScheme{
		"idScheme":                  &opts.IDSchemes.General,
		"orgUnitIdScheme":           &opts.IDSchemes.OrgUnit,
		"programIdScheme":           &opts.IDSchemes.Program,
		"programStageIdScheme":      &opts.IDSchemes.ProgramStage,
		"trackedEntityTypeIdScheme": &opts.IDSchemes.TrackedEntityType,
		"attributeIdScheme":         &opts.IDSchemes.Attribute,
		"relationshipTypeIdScheme":  &opts.IDSchemes.RelationshipType,
	} {
		raw := c.QueryParam(name)
		if raw == "" {
			continue
		}
		scheme, err := metadata.ParseIDScheme(raw)
		if err != nil {
			return nil, echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		*dst = scheme
	}
	return opts, nil
}
