package saksbehandling_test

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/spesialist/internal/bus"
	"github.com/ashita-ai/spesialist/internal/kommando"
	"github.com/ashita-ai/spesialist/internal/oppgave"
	"github.com/ashita-ai/spesialist/internal/saksbehandler"
	"github.com/ashita-ai/spesialist/internal/service/saksbehandling"
	"github.com/ashita-ai/spesialist/internal/storage"
	"github.com/ashita-ai/spesialist/internal/testutil"
)

var (
	testDB *storage.DB
	svc    *saksbehandling.Service
)

func TestMain(m *testing.M) {
	tc := testutil.MustStartPostgres()

	var err error
	testDB, err = tc.NewTestDB(context.Background(), testutil.TestLogger())
	if err != nil {
		tc.Terminate()
		panic(err)
	}
	svc = saksbehandling.New(testDB, testutil.TestLogger())

	code := m.Run()
	testDB.Close(context.Background())
	tc.Terminate()
	os.Exit(code)
}

func sb(ident string, grupper ...saksbehandler.Tilgangsgruppe) saksbehandler.Saksbehandler {
	return saksbehandler.MedGrupper(uuid.New(), ident, ident+" Saksbehandler", ident+"@nav.no", grupper...)
}

type sak struct {
	fødselsnummer string
	oppgaveID     uuid.UUID
	hendelseID    uuid.UUID
	utbetalingID  uuid.UUID
}

func opprett(t *testing.T, totrinn, kanAvvises bool, egenskaper ...oppgave.Egenskap) sak {
	t.Helper()
	vedtaksperiodeID := uuid.New()
	n := oppgave.NyOppgave{
		Fødselsnummer:    uuid.NewString()[:11],
		VedtaksperiodeID: vedtaksperiodeID,
		UtbetalingID:     uuid.New(),
		HendelseID:       uuid.New(),
		Egenskaper:       append([]oppgave.Egenskap{oppgave.Søknad}, egenskaper...),
		KanAvvises:       kanAvvises,
	}
	if totrinn {
		n.Totrinnsvurdering = oppgave.NyTotrinnsvurdering(vedtaksperiodeID)
	}
	o, _ := oppgave.Opprett(n)
	require.NoError(t, testDB.WithTx(context.Background(), func(ctx context.Context, tx *storage.Tx) error {
		return tx.LagreOppgave(ctx, o)
	}))
	return sak{fødselsnummer: n.Fødselsnummer, oppgaveID: o.ID(), hendelseID: n.HendelseID, utbetalingID: n.UtbetalingID}
}

func hent(t *testing.T, id uuid.UUID) *oppgave.Oppgave {
	t.Helper()
	var o *oppgave.Oppgave
	require.NoError(t, testDB.WithTx(context.Background(), func(ctx context.Context, tx *storage.Tx) error {
		var err error
		o, err = tx.HentOppgave(ctx, id)
		return err
	}))
	return o
}

func utboks(t *testing.T, fødselsnummer string) []bus.Melding {
	t.Helper()
	rows, err := testDB.Pool().Query(context.Background(),
		`SELECT melding FROM utgaende_melding WHERE nokkel = $1 ORDER BY id`, fødselsnummer)
	require.NoError(t, err)
	defer rows.Close()
	var out []bus.Melding
	for rows.Next() {
		var raw []byte
		require.NoError(t, rows.Scan(&raw))
		var m bus.Melding
		require.NoError(t, json.Unmarshal(raw, &m))
		out = append(out, m)
	}
	require.NoError(t, rows.Err())
	return out
}

func navn(meldinger []bus.Melding) []string {
	out := make([]string, len(meldinger))
	for i, m := range meldinger {
		out[i] = m.Navn
	}
	return out
}

func TestTildelOgAvmeld(t *testing.T) {
	ctx := context.Background()
	s := opprett(t, false, true)
	sara, ola := sb("S1"), sb("O1")

	require.NoError(t, svc.Tildel(ctx, s.oppgaveID, sara))
	require.NotNil(t, hent(t, s.oppgaveID).TildeltTil())

	err := svc.Tildel(ctx, s.oppgaveID, ola)
	assert.ErrorIs(t, err, oppgave.ErrOppgaveTildeltNoenAndre)

	require.NoError(t, svc.Avmeld(ctx, s.oppgaveID, sara))
	assert.Nil(t, hent(t, s.oppgaveID).TildeltTil())

	assert.Equal(t, []string{bus.OppgaveOppdatert, bus.OppgaveOppdatert}, navn(utboks(t, s.fødselsnummer)))
}

func TestTildelManglerTilgang(t *testing.T) {
	s := opprett(t, false, true, oppgave.EgenAnsatt)
	err := svc.Tildel(context.Background(), s.oppgaveID, sb("S2"))
	assert.ErrorIs(t, err, oppgave.ErrManglerTilgang)
	assert.Empty(t, utboks(t, s.fødselsnummer))
}

func TestUnknownOppgave(t *testing.T) {
	err := svc.Tildel(context.Background(), uuid.New(), sb("S3"))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPåVent(t *testing.T) {
	ctx := context.Background()
	s := opprett(t, false, true)
	sara := sb("S4")

	require.NoError(t, svc.LeggPåVent(ctx, s.oppgaveID, sara, true))
	o := hent(t, s.oppgaveID)
	assert.True(t, o.PåVent())
	require.NotNil(t, o.TildeltTil())

	require.NoError(t, svc.FjernFraPåVent(ctx, s.oppgaveID, sara))
	o = hent(t, s.oppgaveID)
	assert.False(t, o.PåVent())
	assert.Nil(t, o.TildeltTil())
}

func TestFjernFraPåVentKreverEier(t *testing.T) {
	ctx := context.Background()
	s := opprett(t, false, true)
	sara, ola := sb("S7"), sb("O7")

	require.NoError(t, svc.LeggPåVent(ctx, s.oppgaveID, sara, true))
	err := svc.FjernFraPåVent(ctx, s.oppgaveID, ola)
	assert.ErrorIs(t, err, oppgave.ErrOppgaveTildeltNoenAndre)

	o := hent(t, s.oppgaveID)
	assert.True(t, o.PåVent())
	require.NotNil(t, o.TildeltTil())
	assert.Equal(t, sara.OID, o.TildeltTil().OID)
	assert.Equal(t, []string{bus.OppgaveOppdatert}, navn(utboks(t, s.fødselsnummer)))
}

func TestFjernFraPåVentUtenVentIngenEndring(t *testing.T) {
	ctx := context.Background()
	s := opprett(t, false, true)
	sara := sb("S8")
	require.NoError(t, svc.Tildel(ctx, s.oppgaveID, sara))

	require.NoError(t, svc.FjernFraPåVent(ctx, s.oppgaveID, sara))
	o := hent(t, s.oppgaveID)
	require.NotNil(t, o.TildeltTil())
	assert.Equal(t, sara.OID, o.TildeltTil().OID)
	assert.Equal(t, []string{bus.OppgaveOppdatert}, navn(utboks(t, s.fødselsnummer)))

	err := svc.FjernFraPåVent(ctx, s.oppgaveID, sb("O8"))
	assert.ErrorIs(t, err, oppgave.ErrOppgaveTildeltNoenAndre)
	assert.Equal(t, sara.OID, hent(t, s.oppgaveID).TildeltTil().OID)
}

func TestFattVedtakUtenTotrinn(t *testing.T) {
	ctx := context.Background()
	s := opprett(t, false, true)
	sara := sb("S5")
	require.NoError(t, svc.Tildel(ctx, s.oppgaveID, sara))

	require.NoError(t, svc.FattVedtak(ctx, s.oppgaveID, sara, saksbehandling.Vedtak{Godkjent: true}))
	assert.Equal(t, "AvventerSystem", hent(t, s.oppgaveID).Tilstand().String())

	ut := utboks(t, s.fødselsnummer)
	require.Equal(t, []string{bus.OppgaveOppdatert, bus.OppgaveOppdatert, bus.Godkjenning}, navn(ut))
	var g kommando.Godkjenning
	require.NoError(t, ut[2].LesPayload(&g))
	assert.True(t, g.Godkjent)
	assert.False(t, g.AutomatiskBehandling)
	assert.Equal(t, "S5", g.SaksbehandlerIdent)
	assert.Empty(t, g.BeslutterIdent)
	assert.Equal(t, s.hendelseID, g.HendelseID)
	assert.Equal(t, s.utbetalingID, g.UtbetalingID)

	err := svc.FattVedtak(ctx, s.oppgaveID, sara, saksbehandling.Vedtak{Godkjent: true})
	assert.ErrorIs(t, err, saksbehandling.ErrOppgaveAvsluttet)
}

func TestAvvisningNårOppgavenIkkeKanAvvises(t *testing.T) {
	ctx := context.Background()
	s := opprett(t, false, false)
	sara := sb("S6")
	require.NoError(t, svc.Tildel(ctx, s.oppgaveID, sara))

	err := svc.FattVedtak(ctx, s.oppgaveID, sara, saksbehandling.Vedtak{Godkjent: false})
	assert.ErrorIs(t, err, saksbehandling.ErrKanIkkeAvvises)
	assert.Equal(t, "AvventerSaksbehandler", hent(t, s.oppgaveID).Tilstand().String())
}

func TestSendTilBeslutterKreverTildeling(t *testing.T) {
	s := opprett(t, true, true)
	err := svc.SendTilBeslutter(context.Background(), s.oppgaveID, sb("S7"))
	assert.ErrorIs(t, err, oppgave.ErrOppgaveIkkeTildelt)
}

func TestSendTilBeslutterUtenTotrinn(t *testing.T) {
	ctx := context.Background()
	s := opprett(t, false, true)
	sara := sb("S8")
	require.NoError(t, svc.Tildel(ctx, s.oppgaveID, sara))

	err := svc.SendTilBeslutter(ctx, s.oppgaveID, sara)
	assert.ErrorIs(t, err, oppgave.ErrTotrinnsvurderingMangler)
}

func TestTotrinnsvurderingFremOgTilbake(t *testing.T) {
	ctx := context.Background()
	s := opprett(t, true, true)
	sara := sb("S9")
	bea := sb("B1", saksbehandler.Beslutter)

	require.NoError(t, svc.Tildel(ctx, s.oppgaveID, sara))
	require.NoError(t, svc.SendTilBeslutter(ctx, s.oppgaveID, sara))
	o := hent(t, s.oppgaveID)
	assert.True(t, o.Har(oppgave.Beslutter))
	assert.Nil(t, o.TildeltTil())

	// Sara cannot review her own work, and lacks the capability anyway.
	assert.ErrorIs(t, svc.Tildel(ctx, s.oppgaveID, sara), oppgave.ErrManglerTilgang)

	require.NoError(t, svc.Tildel(ctx, s.oppgaveID, bea))
	require.NoError(t, svc.SendIRetur(ctx, s.oppgaveID, bea))
	o = hent(t, s.oppgaveID)
	assert.True(t, o.Har(oppgave.Retur))
	require.NotNil(t, o.TildeltTil())
	assert.Equal(t, sara.OID, o.TildeltTil().OID)

	require.NoError(t, svc.SendTilBeslutter(ctx, s.oppgaveID, sara))
	o = hent(t, s.oppgaveID)
	require.NotNil(t, o.TildeltTil(), "the reviewer who returned it gets it back")
	assert.Equal(t, bea.OID, o.TildeltTil().OID)

	require.NoError(t, svc.FattVedtak(ctx, s.oppgaveID, bea, saksbehandling.Vedtak{Godkjent: true}))
	o = hent(t, s.oppgaveID)
	assert.Equal(t, "AvventerSystem", o.Tilstand().String())

	ut := utboks(t, s.fødselsnummer)
	require.NotEmpty(t, ut)
	siste := ut[len(ut)-1]
	require.Equal(t, bus.Godkjenning, siste.Navn)
	var g kommando.Godkjenning
	require.NoError(t, siste.LesPayload(&g))
	assert.Equal(t, "S9", g.SaksbehandlerIdent)
	assert.Equal(t, "B1", g.BeslutterIdent)
}

func TestReserverRecordsCapabilities(t *testing.T) {
	ctx := context.Background()
	sara := sb("S10", saksbehandler.Skjermede)
	fnr := uuid.NewString()[:11]
	require.NoError(t, svc.Reserver(ctx, fnr, sara, time.Now().Add(time.Hour)))

	require.NoError(t, testDB.WithTx(ctx, func(ctx context.Context, tx *storage.Tx) error {
		got, err := tx.Reservasjon(ctx, fnr)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.True(t, got.HarTilgang(saksbehandler.Skjermede))
		return nil
	}))
}
