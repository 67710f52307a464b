package gpio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBias(t *testing.T) {
	for _, b := range []Bias{BiasPullUp, BiasPullDown} {
		got, err := ParseBias(b.String())
		require.NoError(t, err)
		assert.Equal(t, b, got)
	}

	_, err := ParseBias("as-is")
	assert.Error(t, err)
	assert.Equal(t, "Bias(0)", Bias(0).String())
}
