package pipe

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAtomicState(t *testing.T) {
	require := require.New(t)

	var st AtomicState
	require.Equal(StateUnopened, st.Get())
	require.False(st.ToOpen())
	require.False(st.ToFaulted())

	require.True(st.ToOpening())
	require.False(st.ToOpening())
	require.True(st.ToOpen())
	require.True(st.IsOpen())
	require.True(st.ToOpen())

	require.True(st.ToFaulted())
	require.True(st.IsFaulted())
	require.False(st.ToOpening())

	require.True(st.ToClosing())
	require.Equal("Closing", st.String())
	require.True(st.ToUnopened())
	require.True(st.ToUnopened())
	require.False(st.ToClosing())

	// abandoned open
	require.True(st.ToOpening())
	require.True(st.ToUnopened())
	require.Equal(StateUnopened, st.Get())
}
