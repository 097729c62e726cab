package lock

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in   string
		want Policy
	}{
		{"readers", PolicyReaders},
		{"READERS", PolicyReaders},
		{"writers", PolicyWriters},
		{"Writer", PolicyWriters},
		{"nway", PolicyNWay},
		{"N_WAY", PolicyNWay},
		{" n-way ", PolicyNWay},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePolicy(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParsePolicyUnknown(t *testing.T) {
	_, err := ParsePolicy("fifo")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown lock policy "fifo"`)
}

func TestPolicyString(t *testing.T) {
	assert.Equal(t, "readers", PolicyReaders.String())
	assert.Equal(t, "writers", PolicyWriters.String())
	assert.Equal(t, "nway", PolicyNWay.String())
	assert.Equal(t, "Policy(9)", Policy(9).String())
	assert.False(t, Policy(9).Valid())
}
