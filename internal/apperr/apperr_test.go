package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	base := Wrap(ExecutionFailure, "run query", context.DeadlineExceeded)
	wrapped := fmt.Errorf("pipeline: %w", base)

	require.Equal(t, ExecutionFailure, KindOf(wrapped))
	require.True(t, Is(wrapped, ExecutionFailure))
	require.False(t, Is(wrapped, OracleFailure))
	require.True(t, errors.Is(wrapped, context.DeadlineExceeded))
	require.Equal(t, Kind(""), KindOf(errors.New("plain")))
	require.False(t, Is(nil, ExecutionFailure))
}

func TestErrorText(t *testing.T) {
	require.Equal(t, "correlation_timeout: no response", New(CorrelationTimeout, "no response").Error())
	require.Equal(t, "oracle_failure: generate sql: boom",
		Wrap(OracleFailure, "generate sql", errors.New("boom")).Error())
}
