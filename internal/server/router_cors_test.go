package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestCORSMiddlewareAllowsAuthorizationHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(corsMiddleware())
	router.OPTIONS("/api/tools", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	request := httptest.NewRequest(http.MethodOptions, "/api/tools", http.NoBody)
	request.Header.Set("Origin", "https://app.example.com")
	request.Header.Set("Access-Control-Request-Method", http.MethodPost)
	request.Header.Set("Access-Control-Request-Headers", "Authorization")

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, recorder.Code)
	}

	allowHeaders := recorder.Header().Get("Access-Control-Allow-Headers")
	if !strings.Contains(strings.ToLower(allowHeaders), "authorization") {
		t.Fatalf("expected Access-Control-Allow-Headers to include Authorization, got %q", allowHeaders)
	}

	if recorder.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatalf("expected credentials to be enabled")
	}
}

func TestCORSMiddlewareRestrictsConfiguredOrigins(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(corsMiddleware("https://launchleap.example.com/"))
	router.GET("/api/tools", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	testCases := []struct {
		origin  string
		allowed bool
	}{
		{origin: "https://launchleap.example.com", allowed: true},
		{origin: "http://localhost:3000", allowed: true},
		{origin: "http://127.0.0.1:5173", allowed: true},
		{origin: "https://evil.example.com", allowed: false},
	}

	for _, testCase := range testCases {
		t.Run(testCase.origin, func(t *testing.T) {
			request := httptest.NewRequest(http.MethodGet, "/api/tools", http.NoBody)
			request.Header.Set("Origin", testCase.origin)
			recorder := httptest.NewRecorder()
			router.ServeHTTP(recorder, request)

			allowOrigin := recorder.Header().Get("Access-Control-Allow-Origin")
			if testCase.allowed && allowOrigin != testCase.origin {
				t.Fatalf("expected origin %q to be allowed, got %q", testCase.origin, allowOrigin)
			}
			if !testCase.allowed && recorder.Code != http.StatusForbidden {
				t.Fatalf("expected origin %q to be rejected, got status %d", testCase.origin, recorder.Code)
			}
		})
	}
}
