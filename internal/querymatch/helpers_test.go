package querymatch_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"github.com/ubuntu/anomaly-explorer/internal/querymatch"
)

// rawJSON lets tests write queries as JSON literals.
func rawJSON(s string) json.RawMessage {
	return json.RawMessage(s)
}

func idOf(t *testing.T, doc []byte) string {
	t.Helper()

	ids := querymatch.Values(gjson.ParseBytes(doc), "id")
	require.Len(t, ids, 1, "Setup: document should have one id")
	return ids[0].String()
}
