package fault

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestHTTPStatus checks the status chosen for every sentinel, including wrapped ones.
func TestHTTPStatus(t *testing.T) {
	t.Parallel()

	cases := map[error]int{
		nil:                                      http.StatusOK,
		ErrInvalidInput:                          http.StatusBadRequest,
		fmt.Errorf("profile x: %w", ErrNotFound): http.StatusNotFound,
		fmt.Errorf("asset: %w", ErrResolution):   http.StatusUnprocessableEntity,
		fmt.Errorf("get: %w", ErrTransient):      http.StatusBadGateway,
		fmt.Errorf("chmod: %w", ErrMerge):        http.StatusInternalServerError,
		ErrConfiguration:                         http.StatusInternalServerError,
		errors.New("boom"):                       http.StatusInternalServerError,
	}

	for err, want := range cases {
		require.Equal(t, want, HTTPStatus(err), "%v", err)
	}
}
