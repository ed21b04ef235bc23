package claimtoken

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeRecord struct {
	hash     string
	consumed bool
}

func (f fakeRecord) ClaimTokenHash() string   { return f.hash }
func (f fakeRecord) ClaimTokenConsumed() bool { return f.consumed }

func TestGenerate_UniqueAndFullEntropy(t *testing.T) {
	seen := map[string]struct{}{}
	for i := 0; i < 200; i++ {
		tok, err := Generate()
		require.NoError(t, err)

		raw, err := base64.RawURLEncoding.DecodeString(tok.Raw)
		require.NoError(t, err)
		require.Len(t, raw, Size)
		require.Equal(t, Hash(tok.Raw), tok.Hash)
		require.NotEqual(t, tok.Raw, tok.Hash)

		_, dup := seen[tok.Raw]
		require.False(t, dup, "duplicated token")
		seen[tok.Raw] = struct{}{}
	}
}

func TestVerify(t *testing.T) {
	tok, err := Generate()
	require.NoError(t, err)

	rec := fakeRecord{hash: tok.Hash}
	require.True(t, Verify(rec, tok.Raw))
	require.True(t, Verify(rec, "  "+tok.Raw+" "))

	other, err := Generate()
	require.NoError(t, err)
	require.False(t, Verify(rec, other.Raw))
	require.False(t, Verify(rec, ""))
	require.False(t, Verify(fakeRecord{}, tok.Raw))
	require.False(t, Verify(nil, tok.Raw))

	// ya consumido => false aunque el hash coincida
	require.False(t, Verify(fakeRecord{hash: tok.Hash, consumed: true}, tok.Raw))
}
