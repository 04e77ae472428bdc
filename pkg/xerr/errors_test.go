package xerr

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrap_KeepsCauseAndCode(t *testing.T) {
	err := Wrap(io.EOF, UpstreamUnavailable, "binance ticker read")

	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, UpstreamUnavailable, CodeOf(err))
	assert.Equal(t, "upstream_unavailable", Label(err))
	assert.Contains(t, err.Error(), "binance ticker read")
}

func TestIs_MatchesByCode(t *testing.T) {
	err := fmt.Errorf("session: %w", New(SubscriberLagged, "skipped 12"))

	assert.True(t, errors.Is(err, NewErrCode(SubscriberLagged)))
	assert.False(t, errors.Is(err, NewErrCode(TransportClosed)))
}

func TestCodeOf_PlainErrors(t *testing.T) {
	assert.Equal(t, OK, CodeOf(nil))
	assert.Equal(t, ServerCommonError, CodeOf(errors.New("boom")))
	assert.Equal(t, "internal", Label(errors.New("boom")))
	assert.Nil(t, Wrap(nil, MalformedPayload, "x"))
}
