package logger

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestGinMiddleware(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	base := zap.New(core)

	r := gin.New()
	r.Use(RequestID(), GinMiddleware(base), Recovery(base))
	r.GET("/ok", func(c *gin.Context) {
		FromContext(c.Request.Context(), nil).Info("inside handler")
		c.Status(http.StatusOK)
	})
	r.GET("/missing", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	r.GET("/panic", func(c *gin.Context) { panic("boom") })

	t.Run("propagates request id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ok?x=1", nil)
		req.Header.Set("X-Request-ID", "req-42")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, "req-42", w.Header().Get("X-Request-ID"))

		inside := logs.FilterMessage("inside handler").TakeAll()
		require.Len(t, inside, 1)
		assert.Equal(t, "req-42", inside[0].ContextMap()["request_id"])

		reqLogs := logs.FilterMessage("HTTP Request").TakeAll()
		require.Len(t, reqLogs, 1)
		assert.Equal(t, zapcore.InfoLevel, reqLogs[0].Level)
		assert.Equal(t, "x=1", reqLogs[0].ContextMap()["query"])
	})

	t.Run("client errors log at warn", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing", nil))

		assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
		reqLogs := logs.FilterMessage("HTTP Request").TakeAll()
		require.Len(t, reqLogs, 1)
		assert.Equal(t, zapcore.WarnLevel, reqLogs[0].Level)
	})

	t.Run("panics become 500", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, 1, logs.FilterMessage("Panic recovered").Len())
	})
}
