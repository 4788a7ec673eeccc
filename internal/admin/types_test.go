package admin

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorHTTPStatus(t *testing.T) {
	cases := []struct {
		err  *Error
		want int
	}{
		{ErrNotAdmin, http.StatusForbidden},
		{ErrElevationRequired, http.StatusForbidden},
		{ErrMfaRequired, http.StatusBadRequest},
		{ErrInvalidMfaCode, http.StatusUnauthorized},
		{NotFound("guild"), http.StatusNotFound},
		{Validation("bad reason"), http.StatusBadRequest},
		{Database(nil), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, tc.err.HTTPStatus(), tc.err.Code)
	}
}

func TestErrorBody(t *testing.T) {
	body := NotFound("guild").Body()
	assert.Equal(t, "not_found", body["error"])
	assert.Equal(t, "guild not found", body["message"])
}

func TestDatabaseErrorHidesDetail(t *testing.T) {
	e := Database(assertError("connection refused"))
	assert.Equal(t, "Database error", e.Message)
}

type testErr string

func (e testErr) Error() string { return string(e) }

func assertError(msg string) error { return testErr(msg) }
