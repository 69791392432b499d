package audit

import (
	"bytes"
	"context"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLog_WritesStructuredFields(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })

	Log(context.Background(), Event{
		Type:        EventAdminClaim,
		UserID:      "u1",
		SessionCode: "ABCD",
		Provider:    "jellyfin",
		Details:     map[string]interface{}{"result": "won", "attempt": 1},
	})

	var fields map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &fields))
	assert.Equal(t, "security", fields["audit"])
	assert.Equal(t, "admin_claim", fields["event_type"])
	assert.Equal(t, "u1", fields["user_id"])
	assert.Equal(t, "ABCD", fields["session_code"])
	assert.Equal(t, "won", fields["result"])
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "203.0.113.7:5123"
	assert.Equal(t, "203.0.113.7", ClientIP(r))

	r.RemoteAddr = "203.0.113.8"
	assert.Equal(t, "203.0.113.8", ClientIP(r))
}
