package command

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeBatchRoundTrip(t *testing.T) {
	payloads := [][]byte{
		[]byte("alpha"),
		[]byte(""),
		[]byte("gamma-payload-with-more-bytes"),
	}

	decoded, err := DecodeBatch(EncodeBatch(payloads))
	require.NoError(t, err)
	require.Equal(t, len(payloads), len(decoded))
	for i := range payloads {
		require.Equal(t, payloads[i], decoded[i])
	}
}

func TestEncodeDecodeSingleCommandBatch(t *testing.T) {
	payloads := [][]byte{[]byte("solo")}
	decoded, err := DecodeBatch(EncodeBatch(payloads))
	require.NoError(t, err)
	require.Equal(t, payloads, decoded)
}

func TestEncodeDecodeEmptyBatch(t *testing.T) {
	decoded, err := DecodeBatch(EncodeBatch(nil))
	require.NoError(t, err)
	require.Empty(t, decoded)
}

func TestDecodeBatchRejectsTruncatedLengthPrefix(t *testing.T) {
	_, err := DecodeBatch([]byte{})
	require.Error(t, err)
}

func TestDecodeBatchRejectsPayloadShorterThanDeclaredLength(t *testing.T) {
	encoded := EncodeBatch([][]byte{[]byte("hello")})
	truncated := encoded[:len(encoded)-2]
	_, err := DecodeBatch(truncated)
	require.Error(t, err)
}
