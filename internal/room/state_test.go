package room

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	legal := map[[2]State]bool{
		{Empty, Occupied}: true,
		{Occupied, Empty}: true,
		{Occupied, Sleep}: true,
		{Sleep, Occupied}: true,
		{Sleep, Wake}:     true,
		{Wake, Occupied}:  true,
	}

	for _, from := range States {
		for _, to := range States {
			want := legal[[2]State{from, to}]
			assert.Equal(t, want, CanTransition(from, to), "%s → %s", from, to)
		}
	}
}

func TestCanTransition_UnknownState(t *testing.T) {
	assert.False(t, CanTransition("BOGUS", Occupied))
	assert.False(t, CanTransition(Occupied, "BOGUS"))
}

func TestParseState(t *testing.T) {
	s, err := ParseState(" sleep ")
	require.NoError(t, err)
	assert.Equal(t, Sleep, s)

	_, err = ParseState("napping")
	assert.ErrorIs(t, err, ErrUnknownState)
}
