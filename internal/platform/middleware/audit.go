package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/hmis/tracker/internal/platform/auth"
)

// AuditEntry records who changed which tracker resource.
type AuditEntry struct {
	Username   string
	Action     string // create, update, delete
	Resource   string
	ResourceID string
	Strategy   string
	Async      bool
	RemoteIP   string
	RequestID  string
	StatusCode int
	Timestamp  time.Time
}

// AuditRecorder persists audit entries.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// Audit logs every write request under /api/v1 once the handler returns.
// Reads pass through unrecorded. When recorders are given each entry is
// also handed to them.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			action := methodToAction(req.Method)
			if action == "" || !strings.HasPrefix(req.URL.Path, "/api/v1/") {
				return next(c)
			}

			err := next(c)

			resource, id := splitResource(req.URL.Path)
			entry := AuditEntry{
				Username:   auth.UserFromContext(req.Context()).UsernameOr("anonymous"),
				Action:     action,
				Resource:   resource,
				ResourceID: id,
				Strategy:   strings.ToUpper(c.QueryParam("strategy")),
				Async:      c.QueryParam("async") == "true",
				RemoteIP:   c.RealIP(),
				StatusCode: statusOf(c, err),
				Timestamp:  time.Now().UTC(),
			}
			entry.RequestID, _ = c.Get("request_id").(string)

			for _, r := range recorders {
				if r == nil {
					continue
				}
				if recErr := r.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).Str("request_id", entry.RequestID).Msg("failed to record audit entry")
				}
			}

			logger.Info().
				Str("type", "tracker_audit").
				Str("request_id", entry.RequestID).
				Str("user", entry.Username).
				Str("action", entry.Action).
				Str("resource", entry.Resource).
				Str("resource_id", entry.ResourceID).
				Str("strategy", entry.Strategy).
				Bool("async", entry.Async).
				Str("remote_ip", entry.RemoteIP).
				Int("status", entry.StatusCode).
				Msg("tracker_write")

			return err
		}
	}
}

func methodToAction(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	}
	return ""
}

// splitResource turns /api/v1/enrollments/abc into ("enrollments", "abc").
func splitResource(path string) (string, string) {
	segments := strings.Split(strings.Trim(strings.TrimPrefix(path, "/api/v1/"), "/"), "/")
	resource := segments[0]
	if resource == "" {
		resource = "unknown"
	}
	if len(segments) > 1 {
		return resource, segments[1]
	}
	return resource, ""
}

// statusOf returns the status the response will carry, including errors
// that have not been rendered yet.
func statusOf(c echo.Context, err error) int {
	var he *echo.HTTPError
	if err != nil && !c.Response().Committed {
		if errors.As(err, &he) {
			return he.Code
		}
		return http.StatusInternalServerError
	}
	return c.Response().Status
}
