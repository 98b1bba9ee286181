package middleware

import (
	"io"
	"line-smart-go/pkg/line"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func echoBody(c *gin.Context) {
	raw, _ := c.Get(RawBodyKey)
	body, _ := io.ReadAll(c.Request.Body)
	c.JSON(http.StatusOK, gin.H{"raw": string(raw.([]byte)), "body": string(body)})
}

func TestLineSignature(t *testing.T) {
	r := gin.New()
	r.POST("/webhook", LineSignature("secret", true), echoBody)
	body := `{"events":[]}`

	tests := []struct {
		name      string
		signature string
		want      int
	}{
		{"valid", line.Sign("secret", []byte(body)), http.StatusOK},
		{"missing", "", http.StatusUnauthorized},
		{"wrong secret", line.Sign("other", []byte(body)), http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
			if tt.signature != "" {
				req.Header.Set(line.SignatureHeader, tt.signature)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusOK {
				assert.JSONEq(t, `{"raw":"{\"events\":[]}","body":"{\"events\":[]}"}`, w.Body.String())
			}
		})
	}
}

func TestLineSignature_Disabled(t *testing.T) {
	r := gin.New()
	r.POST("/webhook", LineSignature("secret", false), echoBody)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequestLogger_RequestID(t *testing.T) {
	r := gin.New()
	r.Use(RequestLogger())
	r.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("requestId"))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.Equal(t, http.StatusOK, w.Code)
	id := w.Header().Get(RequestIDHeader)
	assert.NotEmpty(t, id)
	assert.Equal(t, id, w.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "req-123", w.Header().Get(RequestIDHeader))
	assert.Equal(t, "req-123", w.Body.String())
}
