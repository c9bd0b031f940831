package spesialist

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/spesialist/internal/bus"
	"github.com/ashita-ai/spesialist/internal/testutil"
)

type fangPublisher struct {
	meldinger []Melding
}

func (p *fangPublisher) Publiser(_ context.Context, m Melding) error {
	p.meldinger = append(p.meldinger, m)
	return nil
}

type fangHook struct {
	meldinger []Melding
	err       error
}

func (h *fangHook) OnMelding(_ context.Context, m Melding) error {
	h.meldinger = append(h.meldinger, m)
	return h.err
}

func TestPublisherAdapterCarriesEnvelope(t *testing.T) {
	p := &fangPublisher{}
	m, err := bus.Ny(bus.OppgaveOpprettet, "12345678901", uuid.New(), map[string]string{"oppgaveId": "x"})
	require.NoError(t, err)

	require.NoError(t, (&publisherAdapter{p: p}).Publiser(context.Background(), m.Nøkkel(), m))
	require.Len(t, p.meldinger, 1)
	got := p.meldinger[0]
	assert.Equal(t, m.ID, got.ID)
	assert.Equal(t, bus.OppgaveOpprettet, got.Navn)
	assert.Equal(t, "12345678901", got.Nøkkel)
	assert.Equal(t, m.VedtaksperiodeID, got.VedtaksperiodeID)

	var envelope bus.Melding
	require.NoError(t, json.Unmarshal(got.Data, &envelope))
	assert.Equal(t, m.ID, envelope.ID)
	assert.JSONEq(t, `{"oppgaveId":"x"}`, string(envelope.Payload))
}

func TestHookHandlerNotifiesAfterSuccess(t *testing.T) {
	var håndtert []uuid.UUID
	next := bus.HandlerFunc(func(_ context.Context, m bus.Melding) error {
		håndtert = append(håndtert, m.ID)
		return nil
	})
	ok, feiler := &fangHook{}, &fangHook{err: errors.New("nede")}
	h := &hookHandler{next: next, hooks: []MeldingHook{feiler, ok}, logger: testutil.TestLogger()}

	m, err := bus.Ny(bus.Godkjenningsbehov, "12345678901", uuid.New(), map[string]string{})
	require.NoError(t, err)
	require.NoError(t, h.Håndter(context.Background(), m), "hook failures do not fail the message")

	assert.Equal(t, []uuid.UUID{m.ID}, håndtert)
	require.Len(t, ok.meldinger, 1)
	assert.Equal(t, m.ID, ok.meldinger[0].ID)
	assert.Len(t, feiler.meldinger, 1)
}

func TestHookHandlerSkipsIrrelevantAndFailed(t *testing.T) {
	hook := &fangHook{}
	feil := errors.New("db nede")
	h := &hookHandler{
		next: bus.HandlerFunc(func(_ context.Context, m bus.Melding) error {
			if m.Navn == bus.Godkjenningsbehov {
				return feil
			}
			return nil
		}),
		hooks:  []MeldingHook{hook},
		logger: testutil.TestLogger(),
	}

	egen, err := bus.Ny(bus.Godkjenning, "12345678901", uuid.New(), nil)
	require.NoError(t, err)
	require.NoError(t, h.Håndter(context.Background(), egen))

	behov, err := bus.Ny(bus.Godkjenningsbehov, "12345678901", uuid.New(), nil)
	require.NoError(t, err)
	assert.ErrorIs(t, h.Håndter(context.Background(), behov), feil)

	assert.Empty(t, hook.meldinger)
}

func TestResolveOptionsDefaults(t *testing.T) {
	o := resolveOptions(nil)
	assert.NotNil(t, o.logger)
	assert.Equal(t, "dev", o.version)

	o = resolveOptions([]Option{
		WithVersion("1.2.3"),
		WithDatabaseURL("postgres://a"),
		WithStikkprøveTrekk(func(int) bool { return true }),
	})
	assert.Equal(t, "1.2.3", o.version)
	assert.Equal(t, "postgres://a", o.databaseURL)
	require.NotNil(t, o.trekk)
	assert.True(t, o.trekk(10))
}

func TestLoadConfigDatabaseOverrideAppliesToNotify(t *testing.T) {
	cfg, err := loadConfig(resolveOptions([]Option{WithDatabaseURL("postgres://override")}))
	require.NoError(t, err)
	assert.Equal(t, "postgres://override", cfg.DatabaseURL)
	assert.Equal(t, "postgres://override", cfg.NotifyURL)

	cfg, err = loadConfig(resolveOptions([]Option{
		WithDatabaseURL("postgres://pooled"),
		WithNotifyURL("postgres://direct"),
	}))
	require.NoError(t, err)
	assert.Equal(t, "postgres://direct", cfg.NotifyURL)
}
