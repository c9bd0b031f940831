// Package saksbehandler models the caseworker acting on a task and the
// capability check that gates access-controlled work.
package saksbehandler

import (
	"slices"

	"github.com/google/uuid"
)

// Tilgangsgruppe is a capability a caseworker may hold.
type Tilgangsgruppe string

const (
	Kode7            Tilgangsgruppe = "KODE7"
	StrengtFortrolig Tilgangsgruppe = "STRENGT_FORTROLIG"
	Skjermede        Tilgangsgruppe = "SKJERMEDE"
	Beslutter        Tilgangsgruppe = "BESLUTTER"
	Stikkprøve       Tilgangsgruppe = "STIKKPRØVE"
	RiskQA           Tilgangsgruppe = "RISK_QA"
)

// Tilgangskontroll answers whether the caseworker holds a capability.
type Tilgangskontroll func(Tilgangsgruppe) bool

// Saksbehandler is a caseworker. Two values denote the same person when
// their OIDs are equal; the capability check is not part of identity.
type Saksbehandler struct {
	OID   uuid.UUID
	Ident string
	Navn  string
	Epost string

	grupper []Tilgangsgruppe
	tilgang Tilgangskontroll
}

// New returns a caseworker whose capabilities are decided by tilgang.
// A nil tilgang grants nothing.
func New(oid uuid.UUID, ident, navn, epost string, tilgang Tilgangskontroll) Saksbehandler {
	return Saksbehandler{OID: oid, Ident: ident, Navn: navn, Epost: epost, tilgang: tilgang}
}

// MedGrupper returns a caseworker holding exactly the listed capabilities.
func MedGrupper(oid uuid.UUID, ident, navn, epost string, grupper ...Tilgangsgruppe) Saksbehandler {
	sortert := slices.Clone(grupper)
	slices.Sort(sortert)
	sortert = slices.Compact(sortert)
	s := Saksbehandler{OID: oid, Ident: ident, Navn: navn, Epost: epost, grupper: sortert}
	s.tilgang = func(g Tilgangsgruppe) bool { return slices.Contains(sortert, g) }
	return s
}

// HarTilgang reports whether the caseworker holds the capability.
func (s Saksbehandler) HarTilgang(g Tilgangsgruppe) bool {
	if s.tilgang == nil {
		return false
	}
	return s.tilgang(g)
}

// Grupper lists the capabilities known for this caseworker. It is empty for
// caseworkers built with New, whose capabilities are only known through the
// check function.
func (s Saksbehandler) Grupper() []Tilgangsgruppe {
	return slices.Clone(s.grupper)
}

// Er reports whether s and other are the same person.
func (s Saksbehandler) Er(other Saksbehandler) bool {
	return s.OID == other.OID
}

// Samme compares two optional caseworkers by identity.
func Samme(a, b *Saksbehandler) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Er(*b)
}
