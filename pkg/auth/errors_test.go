package auth

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProtocolErrorStatusCode(t *testing.T) {
	cases := map[ErrorKind]int{
		KindInvalidClient:           http.StatusUnauthorized,
		KindUnauthenticated:         http.StatusUnauthorized,
		KindInvalidGrant:            http.StatusBadRequest,
		KindRedirectMismatch:        http.StatusBadRequest,
		KindUnsupportedGrantType:    http.StatusBadRequest,
		KindInvalidRedirectURI:      http.StatusBadRequest,
		KindUnsupportedResponseType: http.StatusBadRequest,
	}

	for kind, want := range cases {
		err := NewProtocolError(kind, "detail")
		assert.Equal(t, want, err.StatusCode(), string(kind))
	}
}

func TestProtocolErrorMessage(t *testing.T) {
	assert.Equal(t, "invalid_grant: code expired", NewProtocolError(KindInvalidGrant, "code expired").Error())
	assert.Equal(t, "invalid_grant", NewProtocolError(KindInvalidGrant, "").Error())
}

func TestAsProtocolError(t *testing.T) {
	base := NewProtocolError(KindInvalidClient, "nope")

	perr, ok := AsProtocolError(base)
	require.True(t, ok)
	assert.Equal(t, KindInvalidClient, perr.Kind)

	wrapped := fmt.Errorf("handling request: %w", base)
	perr, ok = AsProtocolError(wrapped)
	require.True(t, ok)
	assert.Equal(t, KindInvalidClient, perr.Kind)

	_, ok = AsProtocolError(errors.New("plain"))
	assert.False(t, ok)
}
