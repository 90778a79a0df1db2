package logout

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/signaldesk/internal/coordinator"
	"github.com/magabrotheeeer/signaldesk/internal/history"
	"github.com/magabrotheeeer/signaldesk/internal/http/middlewarectx"
	"github.com/magabrotheeeer/signaldesk/internal/viewstate"
)

type ClientMock struct {
	mock.Mock
}

func (m *ClientMock) Logout(ctx context.Context) (coordinator.View, error) {
	args := m.Called(ctx)
	return args.Get(0).(coordinator.View), args.Error(1)
}

func request() *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/logout", nil)
	req.AddCookie(&http.Cookie{Name: middlewarectx.SessionCookie, Value: "tok"})
	return req.WithContext(context.WithValue(req.Context(), middlewarectx.ClientID, "c1"))
}

func TestLogout_ClearsSessionCookie(t *testing.T) {
	m := new(ClientMock)
	m.On("Logout", mock.Anything).Return(coordinator.View{
		Page:       viewstate.PageLanding,
		Directives: []history.Directive{{Action: history.ActionPush, Path: "/"}},
	}, nil).Once()
	h := New(slog.New(slog.NewTextHandler(io.Discard, nil)), func(string) (Client, error) { return m, nil })

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, request())

	assert.Equal(t, http.StatusOK, rec.Code)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, middlewarectx.SessionCookie, cookies[0].Name)
	assert.Equal(t, -1, cookies[0].MaxAge)
	assert.Contains(t, rec.Body.String(), `"page":"landing"`)
	m.AssertExpectations(t)
}

func TestLogout_CoordinatorError(t *testing.T) {
	m := new(ClientMock)
	m.On("Logout", mock.Anything).Return(coordinator.View{}, errors.New("boom")).Once()
	h := New(slog.New(slog.NewTextHandler(io.Discard, nil)), func(string) (Client, error) { return m, nil })

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, request())

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Empty(t, rec.Result().Cookies())
}
