package claim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "PoE-Chain/internal/errors"
)

func TestNewFingerprintBounds(t *testing.T) {
	fp, err := NewFingerprint([]byte{0x01, 0x02}, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, fp.Len())
	assert.Equal(t, "0x0102", fp.Hex())

	_, err = NewFingerprint([]byte{0x01, 0x02, 0x03}, 2)
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))

	empty, err := NewFingerprint(nil, 2)
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Len())
	assert.Equal(t, "0x", empty.Hex())
}

func TestNewFingerprintDefaultLimit(t *testing.T) {
	_, err := NewFingerprint(make([]byte, DefaultMaxClaimLength), 0)
	require.NoError(t, err)
	_, err = NewFingerprint(make([]byte, DefaultMaxClaimLength+1), 0)
	require.Error(t, err)
}

func TestParseFingerprint(t *testing.T) {
	fp, err := ParseFingerprint("0xDEADbeef", 8)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, fp.Bytes())

	same, err := ParseFingerprint("deadbeef", 8)
	require.NoError(t, err)
	assert.True(t, fp.Equal(same))

	_, err = ParseFingerprint("0xzz", 8)
	assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))

	_, err = ParseFingerprint("0xabc", 8)
	assert.Error(t, err, "odd length hex")
}

func TestFingerprintBytesAreCopied(t *testing.T) {
	raw := []byte{0x0a, 0x0b}
	fp := MustFingerprint(raw)
	raw[0] = 0xff
	out := fp.Bytes()
	out[1] = 0xff
	assert.Equal(t, []byte{0x0a, 0x0b}, fp.Bytes())
}

func TestFingerprintEqualityIsByteEquality(t *testing.T) {
	a := MustFingerprint([]byte("abc"))
	b := MustFingerprint([]byte("abc"))
	c := MustFingerprint([]byte("abd"))
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.NotEqual(t, hashFingerprint(""), hashFingerprint("a"))
}
