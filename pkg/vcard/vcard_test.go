package vcard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validCard = "BEGIN:VCARD\r\n" +
	"VERSION:3.0\r\n" +
	"FN:John Doe\r\n" +
	"N:Doe;John;;;\r\n" +
	"END:VCARD\r\n"

func TestValidateVCard(t *testing.T) {
	t.Run("valid card passes", func(t *testing.T) {
		assert.NoError(t, ValidateVCard([]byte(validCard)))
	})
	t.Run("empty input", func(t *testing.T) {
		assert.Error(t, ValidateVCard(nil))
	})
	t.Run("missing BEGIN", func(t *testing.T) {
		assert.Error(t, ValidateVCard([]byte("VERSION:3.0\r\nEND:VCARD\r\n")))
	})
	t.Run("missing FN", func(t *testing.T) {
		bad := "BEGIN:VCARD\r\nVERSION:3.0\r\nEND:VCARD\r\n"
		assert.Error(t, ValidateVCard([]byte(bad)))
	})
}

func TestNormalizeVCard_GeneratesUIDAndFN(t *testing.T) {
	raw := "BEGIN:VCARD\r\nVERSION:3.0\r\nN:Doe;Jane;;;\r\nEND:VCARD\r\n"
	out, err := NormalizeVCard([]byte(raw), "")
	require.NoError(t, err)
	assert.Contains(t, string(out), "FN:Jane Doe")
	assert.Contains(t, string(out), "UID:")
}

func TestNormalizeVCard_TargetVersion4(t *testing.T) {
	out, err := NormalizeVCard([]byte(validCard), "4.0")
	require.NoError(t, err)
	assert.Contains(t, string(out), "VERSION:4.0")
}

func TestNormalizeVCard_UnsupportedVersion(t *testing.T) {
	_, err := NormalizeVCard([]byte(validCard), "2.1")
	require.Error(t, err)
}

func TestNormalizeVCard_MissingFNAndN(t *testing.T) {
	raw := "BEGIN:VCARD\r\nVERSION:3.0\r\nEND:VCARD\r\n"
	_, err := NormalizeVCard([]byte(raw), "")
	require.Error(t, err)
}
