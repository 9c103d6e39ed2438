package validate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sequenceRunner returns one canned output per call.
type sequenceRunner struct {
	outputs []string
	calls   int
}

func (s *sequenceRunner) Run(_ context.Context, cmd string) (string, error) {
	out := s.outputs[min(s.calls, len(s.outputs)-1)]
	s.calls++
	return out, nil
}

func TestParseCode(t *testing.T) {
	assert.Equal(t, 200, ParseCode("200"))
	assert.Equal(t, 502, ParseCode(" 502\n"))
	assert.Equal(t, 0, ParseCode("000"))
	assert.Equal(t, 0, ParseCode(""))
	assert.Equal(t, 0, ParseCode("curl: not found"))
}

func TestValidate_OK(t *testing.T) {
	v := &Validator{}
	code, err := v.Validate(context.Background(), &sequenceRunner{outputs: []string{"200"}})
	require.NoError(t, err)
	assert.Equal(t, 200, code)
}

func TestValidate_BadGateway(t *testing.T) {
	v := &Validator{}
	_, err := v.Validate(context.Background(), &sequenceRunner{outputs: []string{"502"}})
	require.Error(t, err)

	var nr *NotRespondingError
	require.True(t, errors.As(err, &nr))
	assert.Equal(t, 502, nr.Code)
	assert.Equal(t, "app not responding (HTTP 502)", err.Error())
}

func TestValidate_RedirectIsFailureByDefault(t *testing.T) {
	v := &Validator{}
	_, err := v.Validate(context.Background(), &sequenceRunner{outputs: []string{"301"}})
	assert.Error(t, err)

	v.AcceptCodes = []int{200, 301}
	code, err := v.Validate(context.Background(), &sequenceRunner{outputs: []string{"301"}})
	require.NoError(t, err)
	assert.Equal(t, 301, code)
}

func TestValidate_ConnectionRefused(t *testing.T) {
	v := &Validator{}
	_, err := v.Validate(context.Background(), &sequenceRunner{outputs: []string{"000"}})
	var nr *NotRespondingError
	require.True(t, errors.As(err, &nr))
	assert.Equal(t, 0, nr.Code)
}

func TestValidate_Retries(t *testing.T) {
	r := &sequenceRunner{outputs: []string{"502", "502", "200"}}
	v := &Validator{Attempts: 3, Interval: time.Millisecond}

	code, err := v.Validate(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, 200, code)
	assert.Equal(t, 3, r.calls)
}

func TestValidate_CancelledWhileWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := &sequenceRunner{outputs: []string{"502"}}
	v := &Validator{Attempts: 3, Interval: time.Hour}

	_, err := v.Validate(ctx, r)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, r.calls)
}
