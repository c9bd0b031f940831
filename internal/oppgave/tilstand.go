package oppgave

import "fmt"

// Tilstand is the main lifecycle state of an Oppgave. The set is closed:
// the only values are the four exported below.
type Tilstand interface {
	fmt.Stringer
	Terminal() bool
	tilstand()
}

type (
	avventerSaksbehandler struct{}
	avventerSystem        struct{}
	ferdigstilt           struct{}
	invalidert            struct{}
)

var (
	AvventerSaksbehandler Tilstand = avventerSaksbehandler{}
	AvventerSystem        Tilstand = avventerSystem{}
	Ferdigstilt           Tilstand = ferdigstilt{}
	Invalidert            Tilstand = invalidert{}
)

func (avventerSaksbehandler) String() string { return "AvventerSaksbehandler" }
func (avventerSystem) String() string        { return "AvventerSystem" }
func (ferdigstilt) String() string           { return "Ferdigstilt" }
func (invalidert) String() string            { return "Invalidert" }

func (avventerSaksbehandler) Terminal() bool { return false }
func (avventerSystem) Terminal() bool        { return false }
func (ferdigstilt) Terminal() bool           { return true }
func (invalidert) Terminal() bool            { return true }

func (avventerSaksbehandler) tilstand() {}
func (avventerSystem) tilstand()        {}
func (ferdigstilt) tilstand()           {}
func (invalidert) tilstand()            {}

// TilstandFraNavn parses the String form of a Tilstand.
func TilstandFraNavn(navn string) (Tilstand, error) {
	for _, t := range []Tilstand{AvventerSaksbehandler, AvventerSystem, Ferdigstilt, Invalidert} {
		if t.String() == navn {
			return t, nil
		}
	}
	return nil, fmt.Errorf("oppgave: ukjent tilstand %q", navn)
}
