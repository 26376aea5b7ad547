package types

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeFrame_Update(t *testing.T) {
	f, err := DecodeFrame([]byte(`{"k":"/x","v":42,"n":true}`))
	require.NoError(t, err)

	up, ok := f.(*UpdateFrame)
	require.True(t, ok, "expected update frame, got %T", f)
	assert.Equal(t, "/x", up.Key)
	assert.True(t, up.IsNew)
	n, ok := up.Value.Number()
	require.True(t, ok)
	assert.Equal(t, 42.0, n)
}

func TestDecodeFrame_UpdateWithoutIsNew(t *testing.T) {
	f, err := DecodeFrame([]byte(`{"k":"/SmartDashboard/name","v":"bob"}`))
	require.NoError(t, err)

	up := f.(*UpdateFrame)
	assert.False(t, up.IsNew)
	assert.True(t, up.Value.Equal(StringValue("bob")))
}

func TestDecodeFrame_Announce(t *testing.T) {
	f, err := DecodeFrame([]byte(`{"r":true,"a":"10.0.0.2"}`))
	require.NoError(t, err)

	an, ok := f.(*AnnounceFrame)
	require.True(t, ok, "expected announce frame, got %T", f)
	assert.True(t, an.Connected)
	addr, ok := an.PeerAddress()
	assert.True(t, ok)
	assert.Equal(t, "10.0.0.2", addr)
}

func TestDecodeFrame_AnnounceWithoutAddress(t *testing.T) {
	for _, in := range []string{`{"r":false}`, `{"r":false,"a":null}`} {
		f, err := DecodeFrame([]byte(in))
		require.NoError(t, err, in)

		an := f.(*AnnounceFrame)
		assert.False(t, an.Connected)
		_, ok := an.PeerAddress()
		assert.False(t, ok, in)
	}
}

func TestDecodeFrame_AnnounceWinsOverKey(t *testing.T) {
	f, err := DecodeFrame([]byte(`{"r":true,"k":"/x","v":1}`))
	require.NoError(t, err)
	_, ok := f.(*AnnounceFrame)
	assert.True(t, ok)
}

func TestDecodeFrame_Malformed(t *testing.T) {
	cases := map[string]string{
		"not json":         `{"k":`,
		"array":            `[1,2]`,
		"null":             `null`,
		"no discriminator": `{"v":1}`,
		"empty key":        `{"k":"","v":1}`,
		"null key":         `{"k":null,"v":1}`,
		"numeric key":      `{"k":5,"v":1}`,
		"missing value":    `{"k":"/x"}`,
		"null value":       `{"k":"/x","v":null}`,
		"object value":     `{"k":"/x","v":{"a":1}}`,
		"mixed array":      `{"k":"/x","v":[1,"a"]}`,
		"nested array":     `{"k":"/x","v":[[1]]}`,
		"string isNew":     `{"k":"/x","v":1,"n":"yes"}`,
		"null connected":   `{"r":null}`,
		"string connected": `{"r":"true"}`,
		"numeric address":  `{"r":true,"a":5}`,
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			f, err := DecodeFrame([]byte(in))
			assert.Nil(t, f)
			assert.True(t, errors.Is(err, ErrMalformedFrame), "got %v", err)
		})
	}
}

func TestDecodeFrame_UnsupportedValueIsWrapped(t *testing.T) {
	_, err := DecodeFrame([]byte(`{"k":"/x","v":{"nested":true}}`))
	assert.ErrorIs(t, err, ErrMalformedFrame)
	assert.ErrorIs(t, err, ErrUnsupportedValue)
}

func TestEncodeWrite(t *testing.T) {
	data, err := EncodeWrite("/x", NumberValue(42))
	require.NoError(t, err)
	assert.JSONEq(t, `{"k":"/x","v":42}`, string(data))

	data, err = EncodeWrite("/SmartDashboard/names", StringArrayValue([]string{"a", "b"}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"k":"/SmartDashboard/names","v":["a","b"]}`, string(data))

	_, err = EncodeWrite("/x", Value{})
	assert.ErrorIs(t, err, ErrUndefinedValue)
}

func TestDecodeWrite(t *testing.T) {
	w, err := DecodeWrite([]byte(`{"k":"/x","v":true}`))
	require.NoError(t, err)
	assert.Equal(t, "/x", w.Key)
	assert.True(t, w.Value.Equal(BoolValue(true)))

	_, err = DecodeWrite([]byte(`{"k":"/x"}`))
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestEncodeFrame_DecodesBack(t *testing.T) {
	addr := "10.0.0.2"
	frames := []Frame{
		&UpdateFrame{Key: "/a", Value: BoolArrayValue([]bool{true, false}), IsNew: true},
		&AnnounceFrame{Connected: true, Address: &addr},
		&AnnounceFrame{Connected: false},
	}
	for _, f := range frames {
		data, err := EncodeFrame(f)
		require.NoError(t, err)
		got, err := DecodeFrame(data)
		require.NoError(t, err)
		assert.Equal(t, f, got)
	}
}
