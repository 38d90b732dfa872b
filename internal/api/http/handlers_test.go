package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/meshbridge/internal/domain/supervisor"
)

type staticSource supervisor.Status

func (s staticSource) Status() supervisor.Status { return supervisor.Status(s) }

func TestHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name       string
		status     supervisor.Status
		wantCode   int
		wantStatus string
		wantState  string
	}{
		{
			name:       "ready",
			status:     supervisor.Status{State: supervisor.StateReady, Generation: 2, Version: "0.2.3"},
			wantCode:   http.StatusOK,
			wantStatus: "healthy",
			wantState:  "ready",
		},
		{
			name:       "crashed",
			status:     supervisor.Status{State: supervisor.StateCrashed, Generation: 2, LastError: "exit status 1"},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "unavailable",
			wantState:  "crashed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandlers(staticSource(tt.status), Info{Name: "dendrite"})
			router := gin.New()
			router.GET("/_bridge/health", h.Health)

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/_bridge/health", nil))
			assert.Equal(t, tt.wantCode, w.Code)

			var body struct {
				Status     string `json:"status"`
				Supervisor struct {
					State      string `json:"state"`
					Generation uint64 `json:"generation"`
					LastError  string `json:"last_error"`
				} `json:"supervisor"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.wantStatus, body.Status)
			assert.Equal(t, tt.wantState, body.Supervisor.State)
			assert.Equal(t, tt.status.Generation, body.Supervisor.Generation)
			assert.Equal(t, tt.status.LastError, body.Supervisor.LastError)
		})
	}
}

func TestRoot(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewHandlers(staticSource{}, Info{Name: "dendrite", Version: "0.2.3", Prefix: "/_matrix/client"})
	router := gin.New()
	router.GET("/_bridge", h.Root)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/_bridge", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"service":"meshbridge","server":"dendrite","version":"0.2.3","prefix":"/_matrix/client"}`, w.Body.String())
}
