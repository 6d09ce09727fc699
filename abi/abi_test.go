package abi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackUnpackRoundTrip(t *testing.T) {
	cases := []struct {
		ptr, length uint32
	}{
		{0, 0},
		{1, 1},
		{0xFFFFFFFF, 0xFFFFFFFF},
		{1 << 16, 4096},
	}
	for _, c := range cases {
		packed := Pack(c.ptr, c.length)
		ptr, length := Unpack(packed)
		assert.Equal(t, c.ptr, ptr)
		assert.Equal(t, c.length, length)
	}
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	type payload struct {
		Name string `msgpack:"name"`
		N    int    `msgpack:"n"`
	}
	in := payload{Name: "hello", N: 42}

	data, err := Marshal(in)
	require.NoError(t, err)

	var out payload
	require.NoError(t, Unmarshal(data, &out))
	assert.Equal(t, in, out)
}

func TestUnmarshal_InvalidData(t *testing.T) {
	var out map[string]any
	err := Unmarshal([]byte{0xff, 0xff, 0xff}, &out)
	require.Error(t, err)
}
