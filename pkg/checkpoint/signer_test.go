package checkpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSigner_SignVerifyRoundTrip(t *testing.T) {
	signer, err := GenerateSigner()
	require.NoError(t, err)

	snap := sampleSnapshot()
	canonical, err := canonicalize(snap)
	require.NoError(t, err)

	sig := signer.Sign(canonical)
	assert.NoError(t, signer.Verify(canonical, sig))
}

func TestSigner_TamperedDataFailsVerification(t *testing.T) {
	signer, err := GenerateSigner()
	require.NoError(t, err)

	snap := sampleSnapshot()
	canonical, err := canonicalize(snap)
	require.NoError(t, err)
	sig := signer.Sign(canonical)

	snap.Phases[0].Name = "Tampered"
	tampered, err := canonicalize(snap)
	require.NoError(t, err)

	assert.Error(t, signer.Verify(tampered, sig))
}

func TestSigner_WrongKeyFailsVerification(t *testing.T) {
	signerA, err := GenerateSigner()
	require.NoError(t, err)
	signerB, err := GenerateSigner()
	require.NoError(t, err)

	canonical, err := canonicalize(sampleSnapshot())
	require.NoError(t, err)
	sig := signerA.Sign(canonical)

	assert.Error(t, signerB.Verify(canonical, sig))
}
