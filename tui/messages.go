package tui

// MsgBanner signals that the banner/title should be displayed.
type MsgBanner struct{}

// MsgSessionRestored signals that stored credentials were loaded.
type MsgSessionRestored struct{ Source string }

// MsgNoSession signals that no credentials are stored.
type MsgNoSession struct{}

// MsgLoggingIn signals that a login request is in flight.
type MsgLoggingIn struct{ User string }

// MsgLoginOK signals that the backend accepted the credentials.
type MsgLoginOK struct{ User string }

// MsgLoginFailed signals that the backend rejected the login or was unreachable.
type MsgLoginFailed struct{ Err error }

// MsgAccessTokenRejected signals that the access token was rejected (401).
type MsgAccessTokenRejected struct{}

// MsgRefreshing signals that a token refresh is in progress.
type MsgRefreshing struct{}

// MsgRefreshOK signals that the token was refreshed successfully.
type MsgRefreshOK struct{}

// MsgRefreshFailed signals that token refresh failed.
type MsgRefreshFailed struct{ Err error }

// MsgLoggedOut signals that the local session was cleared.
type MsgLoggedOut struct{}

// MsgTokenSaveFailed signals that saving tokens failed.
type MsgTokenSaveFailed struct{ Err error }

// MsgWorking signals that a backend call has started.
type MsgWorking struct{ Action string }

// MsgDone signals that the command finished.
type MsgDone struct{ Summary string }

// MsgFatal signals a fatal error that should terminate the command.
type MsgFatal struct{ Err error }
