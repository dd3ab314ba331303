package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/lumen-blog/blogctl/pipeline"
)

var (
	// ErrLoginFailure covers rejected credentials, backend errors and network
	// failures during login. The token store is left untouched.
	ErrLoginFailure = errors.New("login failed")

	// ErrRefreshFailure means no new access token could be obtained. When it
	// surfaces from a pipeline request, the session has been logged out.
	ErrRefreshFailure = errors.New("token refresh failed")

	// ErrNoRefreshToken is wrapped by ErrRefreshFailure when there is nothing
	// to refresh with.
	ErrNoRefreshToken = errors.New("no refresh token")

	ErrNotAuthenticated = errors.New("not authenticated")
)

// errorResponse is the backend's error body. Login failures use "msg",
// everything else "error".
type errorResponse struct {
	Error            string `json:"error"`
	Msg              string `json:"msg"`
	ErrorDescription string `json:"error_description"`
}

// retrieveError converts a non-2xx token endpoint response into the oauth2
// error type, keeping the status and raw body.
func retrieveError(resp *pipeline.Response) *oauth2.RetrieveError {
	re := &oauth2.RetrieveError{
		Response: &http.Response{
			StatusCode: resp.StatusCode,
			Status:     fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
			Header:     resp.Header,
		},
		Body: resp.Body,
	}

	var er errorResponse
	if err := json.Unmarshal(resp.Body, &er); err == nil {
		switch {
		case er.Error != "":
			re.ErrorCode = er.Error
			re.ErrorDescription = er.ErrorDescription
		case er.Msg != "":
			re.ErrorCode = http.StatusText(resp.StatusCode)
			re.ErrorDescription = er.Msg
		}
	}
	return re
}
