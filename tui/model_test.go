package tui

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func update(t *testing.T, m Model, msgs ...any) Model {
	t.Helper()
	for _, msg := range msgs {
		next, _ := m.Update(msg)
		m = next.(Model)
	}
	return m
}

func TestModel_RefreshCycle(t *testing.T) {
	m := update(t, NewModel(),
		MsgWorking{Action: "Deleting article"},
		MsgAccessTokenRejected{},
		MsgRefreshing{},
	)
	assert.Equal(t, stateRefreshing, m.state)
	assert.Contains(t, m.viewMain(), "Refreshing access token")

	m = update(t, m, MsgRefreshOK{})
	assert.Equal(t, stateWorking, m.state)
	assert.Contains(t, m.viewMain(), "Deleting article...")
	assert.Len(t, m.statusLines, 2)
}

func TestModel_DoneAndFatal(t *testing.T) {
	m := update(t, NewModel(), MsgLoginOK{User: "admin"}, MsgDone{Summary: "Logged in as admin"})
	assert.Equal(t, stateSuccess, m.state)
	assert.Contains(t, m.viewSuccess(), "Logged in as admin")

	m = update(t, NewModel(), MsgLoggedOut{}, MsgFatal{Err: errors.New("token refresh failed")})
	assert.Equal(t, stateError, m.state)
	view := m.viewError()
	assert.Contains(t, view, "token refresh failed")
	assert.Contains(t, view, "blogctl login")
}

func TestPlainDisplayer(t *testing.T) {
	var buf bytes.Buffer
	d := NewPlainDisplayer(&buf)

	d.LoggingIn("admin")
	d.AccessTokenRejected()
	d.RefreshFailed(errors.New("expired"))
	d.LoggedOut()
	d.Done("")
	d.Fatal(errors.New("boom"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, []string{
		"Logging in as admin...",
		"Access token rejected (401), refreshing...",
		"Refresh failed: expired",
		"Session ended. Run 'blogctl login' to sign in again.",
		"Error: boom",
	}, lines)
}
