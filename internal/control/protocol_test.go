package control

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeSetConfigFields(t *testing.T) {
	env, err := decode([]byte(`{"type":"set_config","id":7,"brightness":0.5,"ignored_future_field":true}`))
	require.NoError(t, err)
	assert.Equal(t, typeSetConfig, env.Type)
	assert.Equal(t, uint64(7), env.ID)
	require.NotNil(t, env.Brightness)
	assert.Equal(t, 0.5, *env.Brightness)
	assert.Nil(t, env.PixelCount)
	assert.Nil(t, env.Gamma)
}

func TestDecodeMalformed(t *testing.T) {
	_, err := decode([]byte(`{"type":`))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = decode([]byte(`{"id":3}`))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeProgramPayloadBase64(t *testing.T) {
	env, err := decode([]byte(`{"type":"load_program","id":1,"wasm":"AGFzbQ=="}`))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x61, 0x73, 0x6d}, env.WASM)
}

func TestReconnectBackoffSchedule(t *testing.T) {
	bo := newReconnectBackoff()
	bo.RandomizationFactor = 0 // deterministic for the test

	prev := time.Duration(0)
	for i := 0; i < 12; i++ {
		d := bo.NextBackOff()
		assert.GreaterOrEqual(t, d, prev, "backoff must be non-decreasing")
		assert.LessOrEqual(t, d, backoffMax)
		prev = d
	}
	assert.Equal(t, backoffMax, prev, "backoff must reach its cap")

	// a sustained connection resets the schedule to the minimum
	bo.Reset()
	assert.Equal(t, backoffInitial, bo.NextBackOff())
}
