package login

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/signaldesk/internal/coordinator"
	"github.com/magabrotheeeer/signaldesk/internal/http/middlewarectx"
	"github.com/magabrotheeeer/signaldesk/internal/session"
	"github.com/magabrotheeeer/signaldesk/internal/viewstate"
)

type ClientMock struct {
	mock.Mock
}

func (m *ClientMock) Login(ctx context.Context, creds session.Credentials) (coordinator.View, session.Result, error) {
	args := m.Called(ctx, creds)
	v, _ := args.Get(0).(coordinator.View)
	res, _ := args.Get(1).(session.Result)
	return v, res, args.Error(2)
}

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

func TestLoginHandler_ServeHTTP(t *testing.T) {
	clientMock := new(ClientMock)
	logger := newNoopLogger()

	handler := New(logger, func(string) (Client, error) { return clientMock, nil })

	creds := session.Credentials{Identifier: "trader@example.com", Password: "password123"}

	tests := []struct {
		name           string
		requestBody    interface{}
		mockView       coordinator.View
		mockRes        session.Result
		mockErr        error
		callsClient    bool
		wantStatusCode int
		wantError      string
		wantStatus     string
		wantCookie     string
	}{
		{
			name:           "valid login",
			requestBody:    creds,
			mockView:       coordinator.View{Page: viewstate.PageDashboard, Authenticated: true, SessionToken: "tok"},
			mockRes:        session.Result{Success: true},
			callsClient:    true,
			wantStatusCode: http.StatusOK,
			wantStatus:     "OK",
			wantCookie:     "tok",
		},
		{
			name:           "invalid json body",
			requestBody:    "not a json",
			wantStatusCode: http.StatusBadRequest,
			wantError:      "invalid request body",
			wantStatus:     "Error",
		},
		{
			name:           "validation error - missing password",
			requestBody:    session.Credentials{Identifier: "user1"},
			wantStatusCode: http.StatusUnprocessableEntity,
			wantError:      "field Password is a required field",
			wantStatus:     "Error",
		},
		{
			name:           "wrong password",
			requestBody:    creds,
			mockView:       coordinator.View{Page: viewstate.PageLogin, Notice: viewstate.Notice{Kind: viewstate.NoticeInvalidPassword}},
			mockRes:        session.Result{ErrorKind: session.ErrorInvalidPassword},
			callsClient:    true,
			wantStatusCode: http.StatusUnauthorized,
			wantError:      "invalid_password",
			wantStatus:     "Error",
		},
		{
			name:           "email not verified",
			requestBody:    creds,
			mockView:       coordinator.View{Page: viewstate.PageEmailVerification},
			mockRes:        session.Result{ErrorKind: session.ErrorEmailNotVerified},
			callsClient:    true,
			wantStatusCode: http.StatusForbidden,
			wantError:      "email_not_verified",
			wantStatus:     "Error",
		},
		{
			name:           "coordinator error",
			requestBody:    creds,
			mockErr:        errors.New("loop stopped"),
			callsClient:    true,
			wantStatusCode: http.StatusInternalServerError,
			wantError:      "internal error",
			wantStatus:     "Error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clientMock.ExpectedCalls = nil
			clientMock.Calls = nil

			if tt.callsClient {
				clientMock.On("Login", mock.Anything, tt.requestBody.(session.Credentials)).
					Return(tt.mockView, tt.mockRes, tt.mockErr).Once()
			}

			var bodyBytes []byte
			var err error
			switch v := tt.requestBody.(type) {
			case string:
				bodyBytes = []byte(v)
			default:
				bodyBytes, err = json.Marshal(tt.requestBody)
				if err != nil {
					t.Fatal(err)
				}
			}

			req := httptest.NewRequest(http.MethodPost, "/login", bytes.NewReader(bodyBytes))
			ctx := context.WithValue(req.Context(), middleware.RequestIDKey, "reqid123")
			ctx = context.WithValue(ctx, middlewarectx.ClientID, "c1")
			req = req.WithContext(ctx)

			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatusCode, rec.Code)

			var got map[string]any
			err = json.NewDecoder(rec.Body).Decode(&got)
			assert.NoError(t, err)

			assert.Equal(t, tt.wantStatus, got["status"])

			if tt.wantError != "" {
				assert.Equal(t, tt.wantError, got["error"])
			} else {
				assert.Nil(t, got["error"])
			}

			if tt.callsClient && tt.mockErr == nil {
				data, ok := got["data"].(map[string]any)
				if assert.True(t, ok) {
					view := data["view"].(map[string]any)
					assert.Equal(t, string(tt.mockView.Page), view["page"])
					assert.NotContains(t, view, "SessionToken")
				}
			}

			cookies := rec.Result().Cookies()
			if tt.wantCookie != "" {
				if assert.Len(t, cookies, 1) {
					assert.Equal(t, middlewarectx.SessionCookie, cookies[0].Name)
					assert.Equal(t, tt.wantCookie, cookies[0].Value)
				}
			} else {
				assert.Empty(t, cookies)
			}

			clientMock.AssertExpectations(t)
		})
	}
}
