package storage_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/spesialist/internal/automatisering"
	"github.com/ashita-ai/spesialist/internal/bus"
	"github.com/ashita-ai/spesialist/internal/command"
	"github.com/ashita-ai/spesialist/internal/oppgave"
	"github.com/ashita-ai/spesialist/internal/saksbehandler"
	"github.com/ashita-ai/spesialist/internal/storage"
	"github.com/ashita-ai/spesialist/internal/testutil"
	"github.com/ashita-ai/spesialist/migrations"
)

// testDB holds a shared test database connection for all tests in this package.
var testDB *storage.DB

func TestMain(m *testing.M) {
	tc := testutil.MustStartPostgres()

	var err error
	testDB, err = tc.NewTestDB(context.Background(), testutil.TestLogger())
	if err != nil {
		tc.Terminate()
		panic(err)
	}

	code := m.Run()
	testDB.Close(context.Background())
	tc.Terminate()
	os.Exit(code)
}

func inTx(t *testing.T, fn func(ctx context.Context, tx *storage.Tx) error) {
	t.Helper()
	require.NoError(t, testDB.WithTx(context.Background(), fn))
}

func lagreHendelse(t *testing.T, vedtaksperiodeID uuid.UUID) storage.Hendelse {
	t.Helper()
	h := storage.Hendelse{
		ID:               uuid.New(),
		Type:             bus.Godkjenningsbehov,
		Fødselsnummer:    "12345678910",
		VedtaksperiodeID: vedtaksperiodeID,
		Payload:          json.RawMessage(`{"beløp":100}`),
	}
	inTx(t, func(ctx context.Context, tx *storage.Tx) error {
		return tx.LagreHendelse(ctx, h)
	})
	return h
}

func nySaksbehandler(grupper ...saksbehandler.Tilgangsgruppe) saksbehandler.Saksbehandler {
	oid := uuid.New()
	return saksbehandler.MedGrupper(oid, "X"+oid.String()[:6], "Sara Saksbehandler", "sara@nav.no", grupper...)
}

func TestRunMigrationsIsIdempotent(t *testing.T) {
	require.NoError(t, testDB.RunMigrations(context.Background(), migrations.FS))
}

func TestHendelse(t *testing.T) {
	h := lagreHendelse(t, uuid.New())

	inTx(t, func(ctx context.Context, tx *storage.Tx) error {
		got, err := tx.HentHendelse(ctx, h.ID)
		require.NoError(t, err)
		assert.Equal(t, h.Type, got.Type)
		assert.Equal(t, h.VedtaksperiodeID, got.VedtaksperiodeID)
		assert.JSONEq(t, string(h.Payload), string(got.Payload))

		// Saving again is a no-op.
		require.NoError(t, tx.LagreHendelse(ctx, h))

		_, err = tx.HentHendelse(ctx, uuid.New())
		assert.ErrorIs(t, err, storage.ErrNotFound)
		return nil
	})
}

func TestMarkerMottatt(t *testing.T) {
	id := uuid.New()
	inTx(t, func(ctx context.Context, tx *storage.Tx) error {
		første, err := tx.MarkerMottatt(ctx, id, bus.Godkjenningsbehov)
		require.NoError(t, err)
		assert.True(t, første)

		andre, err := tx.MarkerMottatt(ctx, id, bus.Godkjenningsbehov)
		require.NoError(t, err)
		assert.False(t, andre)
		return nil
	})
}

func TestMarkerMottattRolledBackWithTx(t *testing.T) {
	id := uuid.New()
	boom := errors.New("boom")
	err := testDB.WithTx(context.Background(), func(ctx context.Context, tx *storage.Tx) error {
		_, err := tx.MarkerMottatt(ctx, id, bus.Behov)
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	inTx(t, func(ctx context.Context, tx *storage.Tx) error {
		første, err := tx.MarkerMottatt(ctx, id, bus.Behov)
		require.NoError(t, err)
		assert.True(t, første, "a failed attempt must not count as handled")
		return nil
	})
}

func TestContextRoundTrip(t *testing.T) {
	vedtaksperiodeID := uuid.New()
	h := lagreHendelse(t, vedtaksperiodeID)

	c := command.NewContext(h.ID, vedtaksperiodeID)
	require.NoError(t, c.Behov("Risikovurdering", map[string]any{"organisasjonsnummer": "999"}))
	require.NoError(t, c.Lagre("personinfo", map[string]string{"fornavn": "Ola"}))

	inTx(t, func(ctx context.Context, tx *storage.Tx) error {
		return tx.LagreContext(ctx, c)
	})

	inTx(t, func(ctx context.Context, tx *storage.Tx) error {
		got, err := tx.HentContext(ctx, c.ID())
		require.NoError(t, err)
		assert.Equal(t, c.HendelseID(), got.HendelseID())
		assert.Equal(t, c.Status(), got.Status())
		assert.Equal(t, []string{"Risikovurdering"}, got.Utestående())

		var personinfo map[string]string
		ok, err := got.Hent("personinfo", &personinfo)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "Ola", personinfo["fornavn"])

		forHendelse, err := tx.ContextForHendelse(ctx, h.ID)
		require.NoError(t, err)
		require.NotNil(t, forHendelse)
		assert.Equal(t, c.ID(), forHendelse.ID())

		ingen, err := tx.ContextForHendelse(ctx, uuid.New())
		require.NoError(t, err)
		assert.Nil(t, ingen)

		_, err = tx.HentContext(ctx, uuid.New())
		assert.ErrorIs(t, err, storage.ErrNotFound)
		return nil
	})
}

func TestAktiveContexterSkipsFinished(t *testing.T) {
	vedtaksperiodeID := uuid.New()
	h := lagreHendelse(t, vedtaksperiodeID)

	aktiv := command.NewContext(h.ID, vedtaksperiodeID)
	avbrutt := command.NewContext(h.ID, vedtaksperiodeID)
	avbrutt.Avbryt()

	inTx(t, func(ctx context.Context, tx *storage.Tx) error {
		require.NoError(t, tx.LagreContext(ctx, aktiv))
		return tx.LagreContext(ctx, avbrutt)
	})

	inTx(t, func(ctx context.Context, tx *storage.Tx) error {
		got, err := tx.AktiveContexter(ctx, vedtaksperiodeID)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, aktiv.ID(), got[0].ID())
		return nil
	})
}

func TestOppgaveRoundTrip(t *testing.T) {
	vedtaksperiodeID := uuid.New()
	sb := nySaksbehandler(saksbehandler.Kode7)
	tv := oppgave.NyTotrinnsvurdering(vedtaksperiodeID)
	o, _ := oppgave.Opprett(oppgave.NyOppgave{
		Fødselsnummer:     "12345678910",
		VedtaksperiodeID:  vedtaksperiodeID,
		UtbetalingID:      uuid.New(),
		HendelseID:        uuid.New(),
		Egenskaper:        []oppgave.Egenskap{oppgave.Søknad, oppgave.FortroligAdresse},
		KanAvvises:        true,
		Totrinnsvurdering: tv,
	})
	_, err := o.ForsøkTildeling(sb)
	require.NoError(t, err)

	inTx(t, func(ctx context.Context, tx *storage.Tx) error {
		return tx.LagreOppgave(ctx, o)
	})

	inTx(t, func(ctx context.Context, tx *storage.Tx) error {
		got, err := tx.AktivOppgave(ctx, vedtaksperiodeID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, o.ID(), got.ID())
		assert.Equal(t, "AvventerSaksbehandler", got.Tilstand().String())
		assert.ElementsMatch(t, o.Egenskaper(), got.Egenskaper())
		require.NotNil(t, got.TildeltTil())
		assert.Equal(t, sb.OID, got.TildeltTil().OID)
		require.NotNil(t, got.Totrinnsvurdering())
		assert.Equal(t, tv.ID(), got.Totrinnsvurdering().ID())
		assert.True(t, got.KanAvvises())

		forUtbetaling, err := tx.OppgaveForUtbetaling(ctx, o.UtbetalingID())
		require.NoError(t, err)
		require.NotNil(t, forUtbetaling)
		assert.Equal(t, o.ID(), forUtbetaling.ID())

		_, err = tx.HentOppgave(ctx, uuid.New())
		assert.ErrorIs(t, err, storage.ErrNotFound)
		return nil
	})
}

func TestSecondActiveOppgaveConflicts(t *testing.T) {
	vedtaksperiodeID := uuid.New()
	ny := func() *oppgave.Oppgave {
		o, _ := oppgave.Opprett(oppgave.NyOppgave{
			Fødselsnummer:    "12345678910",
			VedtaksperiodeID: vedtaksperiodeID,
			UtbetalingID:     uuid.New(),
			HendelseID:       uuid.New(),
		})
		return o
	}
	første := ny()
	inTx(t, func(ctx context.Context, tx *storage.Tx) error {
		return tx.LagreOppgave(ctx, første)
	})

	err := testDB.WithTx(context.Background(), func(ctx context.Context, tx *storage.Tx) error {
		return tx.LagreOppgave(ctx, ny())
	})
	require.ErrorIs(t, err, storage.ErrKonflikt)

	// Once the first is closed a new one may be created.
	første.Avbryt()
	inTx(t, func(ctx context.Context, tx *storage.Tx) error {
		require.NoError(t, tx.LagreOppgave(ctx, første))
		return tx.LagreOppgave(ctx, ny())
	})
}

func TestOppgaveForNyUtbetalingErstatterTidligere(t *testing.T) {
	vedtaksperiodeID := uuid.New()
	ny := func(utbetalingID uuid.UUID) *oppgave.Oppgave {
		o, _ := oppgave.Opprett(oppgave.NyOppgave{
			Fødselsnummer:    "12345678910",
			VedtaksperiodeID: vedtaksperiodeID,
			UtbetalingID:     utbetalingID,
			HendelseID:       uuid.New(),
		})
		return o
	}
	u1, u2 := uuid.New(), uuid.New()
	gammel := ny(u1)
	gammel.AvventerSystem("S123456", uuid.New())
	inTx(t, func(ctx context.Context, tx *storage.Tx) error {
		return tx.LagreOppgave(ctx, gammel)
	})

	// The stale task still blocks a second active one.
	err := testDB.WithTx(context.Background(), func(ctx context.Context, tx *storage.Tx) error {
		return tx.LagreOppgave(ctx, ny(u2))
	})
	require.ErrorIs(t, err, storage.ErrKonflikt)

	erstatning := ny(u2)
	inTx(t, func(ctx context.Context, tx *storage.Tx) error {
		aktiv, err := tx.AktivOppgave(ctx, vedtaksperiodeID)
		require.NoError(t, err)
		require.NotNil(t, aktiv)
		require.Equal(t, u1, aktiv.UtbetalingID())
		aktiv.Avbryt()
		require.NoError(t, tx.LagreOppgave(ctx, aktiv))
		return tx.LagreOppgave(ctx, erstatning)
	})

	inTx(t, func(ctx context.Context, tx *storage.Tx) error {
		aktiv, err := tx.AktivOppgave(ctx, vedtaksperiodeID)
		require.NoError(t, err)
		require.NotNil(t, aktiv)
		assert.Equal(t, erstatning.ID(), aktiv.ID())
		assert.Equal(t, u2, aktiv.UtbetalingID())

		forU1, err := tx.OppgaveForUtbetaling(ctx, u1)
		require.NoError(t, err)
		assert.Nil(t, forU1)

		invalidert, err := tx.HentOppgave(ctx, gammel.ID())
		require.NoError(t, err)
		assert.Equal(t, oppgave.Invalidert, invalidert.Tilstand())
		return nil
	})
}

func TestAktivOppgaveNone(t *testing.T) {
	inTx(t, func(ctx context.Context, tx *storage.Tx) error {
		o, err := tx.AktivOppgave(ctx, uuid.New())
		require.NoError(t, err)
		assert.Nil(t, o)
		return nil
	})
}

func TestTotrinnsvurdering(t *testing.T) {
	vedtaksperiodeID := uuid.New()
	tv := oppgave.NyTotrinnsvurdering(vedtaksperiodeID)
	inTx(t, func(ctx context.Context, tx *storage.Tx) error {
		return tx.LagreTotrinnsvurdering(ctx, tv)
	})

	inTx(t, func(ctx context.Context, tx *storage.Tx) error {
		aktiv, err := tx.AktivTotrinnsvurdering(ctx, vedtaksperiodeID)
		require.NoError(t, err)
		require.NotNil(t, aktiv)
		assert.True(t, aktiv.ErAktiv())

		aktiv.Ferdigstill(uuid.New())
		return tx.LagreTotrinnsvurdering(ctx, aktiv)
	})

	inTx(t, func(ctx context.Context, tx *storage.Tx) error {
		aktiv, err := tx.AktivTotrinnsvurdering(ctx, vedtaksperiodeID)
		require.NoError(t, err)
		assert.Nil(t, aktiv)

		ferdig, err := tx.HentTotrinnsvurdering(ctx, tv.ID())
		require.NoError(t, err)
		assert.False(t, ferdig.ErAktiv())
		return nil
	})
}

func TestReservasjon(t *testing.T) {
	sb := nySaksbehandler(saksbehandler.Skjermede, saksbehandler.Kode7)
	fnr := "10987654321"

	inTx(t, func(ctx context.Context, tx *storage.Tx) error {
		require.NoError(t, tx.LagreSaksbehandler(ctx, sb))
		return tx.Reserver(ctx, fnr, sb, time.Now().Add(time.Hour))
	})

	inTx(t, func(ctx context.Context, tx *storage.Tx) error {
		got, err := tx.Reservasjon(ctx, fnr)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, sb.OID, got.OID)
		assert.True(t, got.HarTilgang(saksbehandler.Skjermede))
		assert.True(t, got.HarTilgang(saksbehandler.Kode7))
		assert.False(t, got.HarTilgang(saksbehandler.Beslutter))
		return nil
	})
}

func TestReservasjonExpired(t *testing.T) {
	sb := nySaksbehandler()
	fnr := "11111111111"
	inTx(t, func(ctx context.Context, tx *storage.Tx) error {
		return tx.Reserver(ctx, fnr, sb, time.Now().Add(-time.Minute))
	})
	inTx(t, func(ctx context.Context, tx *storage.Tx) error {
		got, err := tx.Reservasjon(ctx, fnr)
		require.NoError(t, err)
		assert.Nil(t, got)
		return nil
	})
}

func TestAssignmentKeepsRecordedGrupper(t *testing.T) {
	sb := nySaksbehandler(saksbehandler.Beslutter)
	inTx(t, func(ctx context.Context, tx *storage.Tx) error {
		return tx.LagreSaksbehandler(ctx, sb)
	})

	// The task carries a caseworker without capability information.
	utenGrupper := saksbehandler.New(sb.OID, sb.Ident, sb.Navn, sb.Epost, func(saksbehandler.Tilgangsgruppe) bool { return true })
	o, _ := oppgave.Opprett(oppgave.NyOppgave{
		Fødselsnummer:    "12345678910",
		VedtaksperiodeID: uuid.New(),
		UtbetalingID:     uuid.New(),
		HendelseID:       uuid.New(),
	})
	_, err := o.ForsøkTildeling(utenGrupper)
	require.NoError(t, err)
	inTx(t, func(ctx context.Context, tx *storage.Tx) error {
		return tx.LagreOppgave(ctx, o)
	})

	inTx(t, func(ctx context.Context, tx *storage.Tx) error {
		got, err := tx.HentSaksbehandler(ctx, sb.OID)
		require.NoError(t, err)
		assert.Equal(t, []saksbehandler.Tilgangsgruppe{saksbehandler.Beslutter}, got.Grupper())
		return nil
	})
}

func TestAutomatiseringLogg(t *testing.T) {
	vedtaksperiodeID := uuid.New()
	nå := time.Now().UTC()
	resultat := func(opprettet time.Time, automatisert, korrigert bool) automatisering.Resultat {
		return automatisering.Resultat{
			HendelseID:       uuid.New(),
			VedtaksperiodeID: vedtaksperiodeID,
			UtbetalingID:     uuid.New(),
			Automatisert:     automatisert,
			KorrigertSøknad:  korrigert,
			Opprettet:        opprettet,
		}
	}
	manuell := resultat(nå, false, true)
	manuell.Årsaker = []string{automatisering.ÅrsakHarVarsler}

	logget := []automatisering.Resultat{
		resultat(nå.AddDate(0, -7, 0), true, true),
		resultat(nå.AddDate(0, -1, 0), true, true),
		resultat(nå, true, true),
		resultat(nå, true, false),
		manuell,
	}
	inTx(t, func(ctx context.Context, tx *storage.Tx) error {
		for _, r := range logget {
			require.NoError(t, tx.Lagre(ctx, r))
		}
		return nil
	})

	inTx(t, func(ctx context.Context, tx *storage.Tx) error {
		n, err := tx.AntallAutomatiserteKorrigerteSøknader(ctx, vedtaksperiodeID, nå.AddDate(0, -6, 0))
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		got, err := tx.TidligereResultat(ctx, manuell.HendelseID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.False(t, got.Automatisert)
		assert.Equal(t, manuell.Årsaker, got.Årsaker)

		ingen, err := tx.TidligereResultat(ctx, uuid.New())
		require.NoError(t, err)
		assert.Nil(t, ingen)
		return nil
	})
}

func TestLeggIUtboks(t *testing.T) {
	fnr := "22222222222"
	vedtaksperiodeID := uuid.New()
	første, err := bus.Ny(bus.OppgaveOpprettet, fnr, vedtaksperiodeID, map[string]string{"n": "1"})
	require.NoError(t, err)
	andre, err := bus.Ny(bus.OppgaveOppdatert, fnr, vedtaksperiodeID, map[string]string{"n": "2"})
	require.NoError(t, err)

	inTx(t, func(ctx context.Context, tx *storage.Tx) error {
		return tx.LeggIUtboks(ctx, første, andre)
	})

	rows, err := testDB.Pool().Query(context.Background(),
		`SELECT melding->>'@event_name' FROM utgaende_melding WHERE nokkel = $1 ORDER BY id`, fnr)
	require.NoError(t, err)
	defer rows.Close()
	var navn []string
	for rows.Next() {
		var n string
		require.NoError(t, rows.Scan(&n))
		navn = append(navn, n)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{bus.OppgaveOpprettet, bus.OppgaveOppdatert}, navn)
}

func TestCleanupMottatteMeldinger(t *testing.T) {
	inTx(t, func(ctx context.Context, tx *storage.Tx) error {
		_, err := tx.MarkerMottatt(ctx, uuid.New(), bus.Behov)
		return err
	})
	n, err := testDB.CleanupMottatteMeldinger(context.Background(), -time.Minute)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, int64(1))
}

func TestNotifyReconnectsAfterConnectionLoss(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	const kanal = "storage_test"

	require.NoError(t, testDB.Listen(ctx, kanal))
	require.NoError(t, testDB.Notify(ctx, kanal, "før"))
	ch, payload, err := testDB.WaitForNotification(ctx)
	require.NoError(t, err)
	assert.Equal(t, kanal, ch)
	assert.Equal(t, "før", payload)

	pid := testDB.NotifyConn().PgConn().PID()
	_, err = testDB.Pool().Exec(ctx, `SELECT pg_terminate_backend($1)`, pid)
	require.NoError(t, err)
	_, _, err = testDB.WaitForNotification(ctx)
	require.Error(t, err)

	// Listening again reconnects and restores the subscription.
	require.NoError(t, testDB.Listen(ctx, kanal))
	assert.NotEqual(t, pid, testDB.NotifyConn().PgConn().PID())

	require.NoError(t, testDB.Notify(ctx, kanal, "etter"))
	_, payload, err = testDB.WaitForNotification(ctx)
	require.NoError(t, err)
	assert.Equal(t, "etter", payload)
}
