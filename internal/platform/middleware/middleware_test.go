package middleware

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hmis/tracker/internal/platform/auth"
)

func newCtx(method, target string, body io.Reader) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, target, body)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func ok(c echo.Context) error { return c.String(http.StatusOK, "ok") }

func TestRequestID(t *testing.T) {
	c, rec := newCtx(http.MethodGet, "/", nil)
	require.NoError(t, RequestID()(ok)(c))
	generated := rec.Header().Get(RequestIDHeader)
	assert.NotEmpty(t, generated)
	assert.Equal(t, generated, c.Get("request_id"))

	c, rec = newCtx(http.MethodGet, "/", nil)
	c.Request().Header.Set(RequestIDHeader, "my-custom-id")
	require.NoError(t, RequestID()(ok)(c))
	assert.Equal(t, "my-custom-id", rec.Header().Get(RequestIDHeader))
}

func TestLogger_LogsStatusOfErrors(t *testing.T) {
	var buf bytes.Buffer
	c, rec := newCtx(http.MethodPost, "/api/v1/enrollments", nil)
	c.Set("request_id", "rid-1")

	err := Logger(zerolog.New(&buf))(func(echo.Context) error {
		return echo.NewHTTPError(http.StatusBadRequest, "bad")
	})(c)
	assert.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, buf.String(), `"status":400`)
	assert.Contains(t, buf.String(), `"request_id":"rid-1"`)
}

func TestRecovery(t *testing.T) {
	var buf bytes.Buffer
	c, _ := newCtx(http.MethodGet, "/", nil)
	err := Recovery(zerolog.New(&buf))(func(echo.Context) error { panic("boom") })(c)

	var he *echo.HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusInternalServerError, he.Code)
	assert.Contains(t, buf.String(), "panic recovered")

	c, rec := newCtx(http.MethodGet, "/", nil)
	require.NoError(t, Recovery(zerolog.Nop())(ok)(c))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSecurityHeaders(t *testing.T) {
	c, rec := newCtx(http.MethodGet, "/", nil)
	require.NoError(t, SecurityHeaders()(ok)(c))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestParseLimit(t *testing.T) {
	tests := map[string]int64{
		"":     1 << 20,
		"512":  512,
		"512K": 512 << 10,
		"20M":  20 << 20,
		"20mb": 20 << 20,
		"1G":   1 << 30,
		"lots": 1 << 20,
		"-5":   1 << 20,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLimit(in), in)
	}
}

func TestBodyLimit(t *testing.T) {
	read := func(c echo.Context) error {
		_, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return err
		}
		return c.NoContent(http.StatusOK)
	}

	c, rec := newCtx(http.MethodPost, "/", strings.NewReader("small"))
	require.NoError(t, BodyLimit("10")(read)(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	c, _ = newCtx(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", 20)))
	var he *echo.HTTPError
	require.ErrorAs(t, BodyLimit("10")(read)(c), &he)
	assert.Equal(t, http.StatusRequestEntityTooLarge, he.Code)

	// no Content-Length: enforced while reading
	c, _ = newCtx(http.MethodPost, "/", io.NopCloser(strings.NewReader(strings.Repeat("x", 20))))
	c.Request().ContentLength = -1
	require.ErrorAs(t, BodyLimit("10")(read)(c), &he)
	assert.Equal(t, http.StatusRequestEntityTooLarge, he.Code)
}

func TestAudit_RecordsWrites(t *testing.T) {
	var got []AuditEntry
	rec := AuditRecorderFunc(func(e AuditEntry) error {
		got = append(got, e)
		return nil
	})

	c, _ := newCtx(http.MethodDelete, "/api/v1/trackedEntityInstances/PQfMcpmXeFE?strategy=delete", nil)
	c.SetRequest(c.Request().WithContext(auth.WithUser(c.Request().Context(), &auth.User{Username: "clerk"})))
	c.Set("request_id", "rid-7")

	err := Audit(zerolog.Nop(), rec)(func(echo.Context) error {
		return echo.NewHTTPError(http.StatusConflict, "not owner")
	})(c)
	assert.Error(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, AuditEntry{
		Username:   "clerk",
		Action:     "delete",
		Resource:   "trackedEntityInstances",
		ResourceID: "PQfMcpmXeFE",
		Strategy:   "DELETE",
		RemoteIP:   got[0].RemoteIP,
		RequestID:  "rid-7",
		StatusCode: http.StatusConflict,
		Timestamp:  got[0].Timestamp,
	}, got[0])
}

func TestAudit_SkipsReadsAndOtherPaths(t *testing.T) {
	calls := 0
	rec := AuditRecorderFunc(func(AuditEntry) error { calls++; return nil })

	c, _ := newCtx(http.MethodGet, "/api/v1/system/tasks/abc", nil)
	require.NoError(t, Audit(zerolog.Nop(), rec)(ok)(c))
	c, _ = newCtx(http.MethodPost, "/health", nil)
	require.NoError(t, Audit(zerolog.Nop(), rec)(ok)(c))
	assert.Zero(t, calls)
}

func TestAudit_RecorderErrorDoesNotFailRequest(t *testing.T) {
	var buf bytes.Buffer
	rec := AuditRecorderFunc(func(AuditEntry) error { return errors.New("disk full") })

	c, res := newCtx(http.MethodPost, "/api/v1/enrollments", nil)
	require.NoError(t, Audit(zerolog.New(&buf), rec)(ok)(c))
	assert.Equal(t, http.StatusOK, res.Code)
	assert.Contains(t, buf.String(), "failed to record audit entry")
	assert.Contains(t, buf.String(), `"user":"anonymous"`)
}

func TestTracing_PassesContextThrough(t *testing.T) {
	c, rec := newCtx(http.MethodPost, "/api/v1/enrollments", nil)
	c.SetPath("/api/v1/enrollments")
	var sawCtx bool
	err := Tracing()(func(c echo.Context) error {
		sawCtx = c.Request().Context() != nil
		return c.NoContent(http.StatusAccepted)
	})(c)
	require.NoError(t, err)
	assert.True(t, sawCtx)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}
