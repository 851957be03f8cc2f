package vcard

import (
	"strings"
	"testing"

	govcard "github.com/emersion/go-vcard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calstack/davcore/internal/collation"
)

const cardWithContacts = "BEGIN:VCARD\r\n" +
	"VERSION:3.0\r\n" +
	"UID:card-1\r\n" +
	"FN:Jane Doe\r\n" +
	"N:Doe;Jane;;Dr.;\r\n" +
	"ORG:Acme Corp\r\n" +
	"TITLE:Engineer\r\n" +
	"EMAIL:jane@example.com\r\n" +
	"EMAIL:jane.doe@example.com\r\n" +
	"TEL:+1-555-0100\r\n" +
	"END:VCARD\r\n"

func decodeOne(t *testing.T, raw string) govcard.Card {
	t.Helper()
	dec := govcard.NewDecoder(strings.NewReader(raw))
	c, err := dec.Decode()
	require.NoError(t, err)
	return c
}

func TestBuildCardIndex(t *testing.T) {
	card := decodeOne(t, cardWithContacts)
	idx := BuildCardIndex("entity-1", card)

	assert.Equal(t, "card-1", idx.UID)
	assert.Equal(t, "Jane Doe", idx.FN)
	assert.Equal(t, collation.AsciiFold("Jane Doe"), idx.FNAsciiFold)
	assert.Equal(t, collation.UnicodeFold("Jane Doe"), idx.FNUnicodeFold)
	assert.Equal(t, "Acme Corp", idx.Org)
	assert.Equal(t, "Engineer", idx.Title)
	assert.Equal(t, "Doe;Jane;Dr.", idx.N)
	assert.ElementsMatch(t, []string{"jane@example.com", "jane.doe@example.com"}, idx.Emails)
	assert.ElementsMatch(t, []string{"+1-555-0100"}, idx.Phones)
}

func TestBuildCardIndex_MinimalCard(t *testing.T) {
	raw := "BEGIN:VCARD\r\nVERSION:3.0\r\nFN:No Extras\r\nEND:VCARD\r\n"
	card := decodeOne(t, raw)
	idx := BuildCardIndex("entity-2", card)

	assert.Equal(t, "No Extras", idx.FN)
	assert.Empty(t, idx.UID)
	assert.Empty(t, idx.Emails)
	assert.Empty(t, idx.Phones)
}
