package vcard

import (
	govcard "github.com/emersion/go-vcard"

	"github.com/calstack/davcore/internal/collation"
	"github.com/calstack/davcore/internal/storage"
)

// BuildCardIndex extracts the fields the addressbook-query filter engine
// consults from a decoded card, producing the derived, foldable
// CardIndex projection carried alongside the raw entity.
func BuildCardIndex(entityID string, c govcard.Card) *storage.CardIndex {
	fn := c.PreferredValue(govcard.FieldFormattedName)
	idx := &storage.CardIndex{
		EntityID:      entityID,
		UID:           c.Value(govcard.FieldUID),
		FN:            fn,
		FNAsciiFold:   collation.AsciiFold(fn),
		FNUnicodeFold: collation.UnicodeFold(fn),
		Org:           c.PreferredValue(govcard.FieldOrganization),
		Title:         c.PreferredValue(govcard.FieldTitle),
	}
	if n := c.Name(); n != nil {
		idx.N = joinNonEmpty(n.FamilyName, n.GivenName, n.AdditionalName, n.HonorificPrefix, n.HonorificSuffix)
	}
	for _, f := range c[govcard.FieldEmail] {
		idx.Emails = append(idx.Emails, f.Value)
	}
	for _, f := range c[govcard.FieldTelephone] {
		idx.Phones = append(idx.Phones, f.Value)
	}
	return idx
}

func joinNonEmpty(parts ...string) string {
	out := ""
	for _, p := range parts {
		if p == "" {
			continue
		}
		if out != "" {
			out += ";"
		}
		out += p
	}
	return out
}
