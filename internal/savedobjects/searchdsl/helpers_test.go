package searchdsl_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

// requireJSONEq compares the JSON encoding of got with want.
func requireJSONEq(t *testing.T, want string, got any) {
	t.Helper()

	b, err := json.Marshal(got)
	require.NoError(t, err, "Setup: could not marshal the result")
	require.JSONEq(t, want, string(b), "Unexpected search request")
}
