package collation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseToken(t *testing.T) {
	tok, err := ParseToken("i;octet")
	require.NoError(t, err)
	assert.Equal(t, Octet, tok)

	_, err = ParseToken("i;bogus")
	require.ErrorIs(t, err, ErrUnsupportedCollation)
}

func TestFold_ASCIICasemap(t *testing.T) {
	assert.Equal(t, "STRASSE", Fold(ASCIICasemap, "strasse"))
	// ß is not an ASCII letter, so ascii-casemap leaves it untouched.
	assert.Equal(t, "STRAßE", Fold(ASCIICasemap, "straße"))
}

func TestFold_UnicodeCasemap(t *testing.T) {
	assert.Equal(t, Fold(UnicodeCasemap, "Straße"), Fold(UnicodeCasemap, "STRASSE"))
	assert.Equal(t, Fold(UnicodeCasemap, "Σ"), Fold(UnicodeCasemap, "σ"))
	assert.Equal(t, Fold(UnicodeCasemap, "Σ"), Fold(UnicodeCasemap, "ς"))
}

func TestFold_Octet_Identity(t *testing.T) {
	assert.Equal(t, "MixedCase", Fold(Octet, "MixedCase"))
}

func TestAsciiFoldAndUnicodeFold(t *testing.T) {
	assert.Equal(t, "HELLO", AsciiFold("hello"))
	assert.Equal(t, UnicodeFold("HELLO"), UnicodeFold("hello"))
}

func TestSupported_ListsAllThreeTokens(t *testing.T) {
	assert.ElementsMatch(t, []string{"i;octet", "i;ascii-casemap", "i;unicode-casemap"}, Supported())
}
