package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

func TestMask(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"postgres://app:s3cret@db:5432/chat", "postgres://*:*@db:5432/chat"},
		{"redis://default:pw@localhost:6379/0", "redis://*:*@localhost:6379/0"},
		{"GET /ws/chat/1?token=abc.def", "GET /ws/chat/1?token=***"},
		{"Authorization: Bearer abc.def", "Authorization: Bearer ***"},
		{"password=hunter2 host=x", "password=*** host=x"},
		{"no secrets here", "no secrets here"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, Mask(tt.in))
	}
}

func TestTruncate(t *testing.T) {
	require.Equal(t, "short", Truncate("short"))

	long := strings.Repeat("ب", MaxLogText)
	out := Truncate(long)
	require.True(t, utf8.ValidString(out))
	require.LessOrEqual(t, len(out), MaxLogText+len("…"))
	require.True(t, strings.HasSuffix(out, "…"))

	require.Equal(t, "ab…", TruncateTo("abcdef", 2))
}

func TestNewWithWriter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "worker", false)
	logger.Info().Str("dsn", Mask("postgres://u:p@db/x")).Msg("connected")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "worker", line["service"])
	require.Equal(t, "connected", line["message"])
	require.NotContains(t, line["dsn"], "u:p")
}
