package util

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCloneBytes(t *testing.T) {
	require := require.New(t)

	src := []byte{1, 2, 3}
	dst := CloneBytes(src)
	require.Equal(src, dst)

	dst[0] = 9
	require.Equal(byte(1), src[0])

	require.Nil(CloneBytes(nil))
	require.Nil(CloneBytes([]byte{}))
}

func TestHexString(t *testing.T) {
	require := require.New(t)

	require.Equal("02 00 0A FF", HexString([]byte{0x02, 0x00, 0x0a, 0xff}, 0))
	require.Equal("01 02 ...", HexString([]byte{1, 2, 3, 4}, 2))
	require.Equal("", HexString(nil, 0))
}

func TestParseHex(t *testing.T) {
	require := require.New(t)

	for _, s := range []string{"02 00 03", "02:00:03", "020003", "0x020003", "02-00-03\n"} {
		b, err := ParseHex(s)
		require.NoError(err, s)
		require.Equal([]byte{0x02, 0x00, 0x03}, b, s)
	}

	_, err := ParseHex("0g")
	require.Error(err)
}
