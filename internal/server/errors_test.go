package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/cloudcost/internal/docstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type routesFunc func(r *gin.Engine)

func (f routesFunc) Register(r *gin.Engine) { f(r) }

func testEngine(routes routesFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	return NewEngine(EngineParams{Log: zap.NewNop(), Routes: []Routes{routes}})
}

func TestErrorHandlingMiddlewareStatuses(t *testing.T) {
	cases := []struct {
		err    error
		status int
		kind   string
	}{
		{ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
		{ErrForbidden, http.StatusForbidden, "forbidden"},
		{fmt.Errorf("channel: %w", docstore.ErrNotFound), http.StatusNotFound, "not_found"},
		{ErrConflict, http.StatusConflict, "conflict"},
		{ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
		{fmt.Errorf("%w: webhook returned 400", ErrBadGateway), http.StatusBadGateway, "bad_gateway"},
		{ErrGatewayTimeout, http.StatusGatewayTimeout, "gateway_timeout"},
		{NewValidationError("message", "required", "message is required"), http.StatusBadRequest, "validation_error"},
		{fmt.Errorf("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tc := range cases {
		t.Run(tc.kind, func(t *testing.T) {
			r := testEngine(func(r *gin.Engine) {
				r.GET("/fail", func(c *gin.Context) { AbortWithError(c, tc.err) })
			})
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/fail", nil))

			require.Equal(t, tc.status, w.Code)
			var body errorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tc.kind, body.Error.Type)
		})
	}
}

func TestBadGatewayKeepsUpstreamDetail(t *testing.T) {
	_, payload := mapError(fmt.Errorf("%w: webhook returned 400", ErrBadGateway))
	assert.Contains(t, payload.Message, "webhook returned 400")
}

func TestBindJSONReportsFields(t *testing.T) {
	type request struct {
		WebhookURL string `json:"webhook_url" binding:"required,url"`
		Message    string `json:"message" binding:"required,max=5"`
	}
	r := testEngine(func(r *gin.Engine) {
		r.POST("/bind", func(c *gin.Context) {
			var req request
			if err := BindJSON(c, &req); err != nil {
				AbortWithError(c, err)
				return
			}
			c.Status(http.StatusNoContent)
		})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/bind", strings.NewReader(`{"message":"too long"}`)))
	require.Equal(t, http.StatusBadRequest, w.Code)

	var body errorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	fields := map[string]string{}
	for _, e := range body.Error.Errors {
		fields[e.Field] = e.Code
	}
	assert.Equal(t, "required", fields["webhook_url"])
	assert.Equal(t, "max", fields["message"])

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/bind", strings.NewReader(`not json`)))
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "invalid_request", body.Error.Errors[0].Code)
}

func TestHandlerResponseIsNotOverwritten(t *testing.T) {
	r := testEngine(func(r *gin.Engine) {
		r.GET("/written", func(c *gin.Context) {
			c.JSON(http.StatusAccepted, gin.H{"ok": true})
			_ = c.Error(ErrInternal)
		})
	})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/written", nil))
	assert.Equal(t, http.StatusAccepted, w.Code)
}
