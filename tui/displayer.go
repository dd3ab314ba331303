package tui

import (
	"fmt"
	"io"

	tea "charm.land/bubbletea/v2"
	"github.com/common-nighthawk/go-figure"
)

// Displayer abstracts all progress output of a command. Command results are
// written separately to stdout.
type Displayer interface {
	Banner()
	SessionRestored(source string)
	NoSession()
	LoggingIn(user string)
	LoginOK(user string)
	LoginFailed(err error)
	AccessTokenRejected()
	Refreshing()
	RefreshOK()
	RefreshFailed(err error)
	LoggedOut()
	TokenSaveFailed(err error)
	Working(action string)
	Done(summary string)
	Fatal(err error)
}

// PlainDisplayer writes plain text output to w.
// Used when stdout is not a TTY (pipes, CI, SSH without pty).
type PlainDisplayer struct {
	w io.Writer
}

// NewPlainDisplayer creates a PlainDisplayer that writes to w.
func NewPlainDisplayer(w io.Writer) *PlainDisplayer {
	return &PlainDisplayer{w: w}
}

func (p *PlainDisplayer) Banner() {
	fmt.Fprint(p.w, figure.NewFigure("blogctl", "cybermedium", true).String())
	fmt.Fprintln(p.w)
}

func (p *PlainDisplayer) SessionRestored(source string) {
	fmt.Fprintf(p.w, "Using stored session from %s\n", source)
}

func (p *PlainDisplayer) NoSession() {
	fmt.Fprintln(p.w, "Not logged in.")
}

func (p *PlainDisplayer) LoggingIn(user string) {
	fmt.Fprintf(p.w, "Logging in as %s...\n", user)
}

func (p *PlainDisplayer) LoginOK(user string) {
	fmt.Fprintf(p.w, "Logged in as %s.\n", user)
}

func (p *PlainDisplayer) LoginFailed(err error) {
	fmt.Fprintf(p.w, "Login failed: %v\n", err)
}

func (p *PlainDisplayer) AccessTokenRejected() {
	fmt.Fprintln(p.w, "Access token rejected (401), refreshing...")
}

func (p *PlainDisplayer) Refreshing() {
	fmt.Fprintln(p.w, "Refreshing access token...")
}

func (p *PlainDisplayer) RefreshOK() {
	fmt.Fprintln(p.w, "Token refreshed successfully!")
}

func (p *PlainDisplayer) RefreshFailed(err error) {
	fmt.Fprintf(p.w, "Refresh failed: %v\n", err)
}

func (p *PlainDisplayer) LoggedOut() {
	fmt.Fprintln(p.w, "Session ended. Run 'blogctl login' to sign in again.")
}

func (p *PlainDisplayer) TokenSaveFailed(err error) {
	fmt.Fprintf(p.w, "Warning: Failed to save tokens: %v\n", err)
}

func (p *PlainDisplayer) Working(action string) {
	fmt.Fprintf(p.w, "%s...\n", action)
}

func (p *PlainDisplayer) Done(summary string) {
	if summary != "" {
		fmt.Fprintln(p.w, summary)
	}
}

func (p *PlainDisplayer) Fatal(err error) {
	fmt.Fprintf(p.w, "Error: %v\n", err)
}

// NoopDisplayer is a no-op implementation used in tests.
type NoopDisplayer struct{}

func (NoopDisplayer) Banner()                  {}
func (NoopDisplayer) SessionRestored(_ string) {}
func (NoopDisplayer) NoSession()               {}
func (NoopDisplayer) LoggingIn(_ string)       {}
func (NoopDisplayer) LoginOK(_ string)         {}
func (NoopDisplayer) LoginFailed(_ error)      {}
func (NoopDisplayer) AccessTokenRejected()     {}
func (NoopDisplayer) Refreshing()              {}
func (NoopDisplayer) RefreshOK()               {}
func (NoopDisplayer) RefreshFailed(_ error)    {}
func (NoopDisplayer) LoggedOut()               {}
func (NoopDisplayer) TokenSaveFailed(_ error)  {}
func (NoopDisplayer) Working(_ string)         {}
func (NoopDisplayer) Done(_ string)            {}
func (NoopDisplayer) Fatal(_ error)            {}

// ProgramDisplayer sends BubbleTea messages to a running tea.Program.
type ProgramDisplayer struct {
	p *tea.Program
}

// NewProgramDisplayer creates a ProgramDisplayer that sends messages to p.
func NewProgramDisplayer(p *tea.Program) *ProgramDisplayer {
	return &ProgramDisplayer{p: p}
}

func (t *ProgramDisplayer) Banner() {
	t.p.Send(MsgBanner{})
}

func (t *ProgramDisplayer) SessionRestored(source string) {
	t.p.Send(MsgSessionRestored{Source: source})
}

func (t *ProgramDisplayer) NoSession() {
	t.p.Send(MsgNoSession{})
}

func (t *ProgramDisplayer) LoggingIn(user string) {
	t.p.Send(MsgLoggingIn{User: user})
}

func (t *ProgramDisplayer) LoginOK(user string) {
	t.p.Send(MsgLoginOK{User: user})
}

func (t *ProgramDisplayer) LoginFailed(err error) {
	t.p.Send(MsgLoginFailed{Err: err})
}

func (t *ProgramDisplayer) AccessTokenRejected() {
	t.p.Send(MsgAccessTokenRejected{})
}

func (t *ProgramDisplayer) Refreshing() {
	t.p.Send(MsgRefreshing{})
}

func (t *ProgramDisplayer) RefreshOK() {
	t.p.Send(MsgRefreshOK{})
}

func (t *ProgramDisplayer) RefreshFailed(err error) {
	t.p.Send(MsgRefreshFailed{Err: err})
}

func (t *ProgramDisplayer) LoggedOut() {
	t.p.Send(MsgLoggedOut{})
}

func (t *ProgramDisplayer) TokenSaveFailed(err error) {
	t.p.Send(MsgTokenSaveFailed{Err: err})
}

func (t *ProgramDisplayer) Working(action string) {
	t.p.Send(MsgWorking{Action: action})
}

func (t *ProgramDisplayer) Done(summary string) {
	t.p.Send(MsgDone{Summary: summary})
}

func (t *ProgramDisplayer) Fatal(err error) {
	t.p.Send(MsgFatal{Err: err})
}
