package envelope

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tlgselvi/desewebv5-gitops-sub006/internal/buserr"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestEnvelope(t *testing.T) *Envelope {
	t.Helper()
	fixed := time.Date(2024, 5, 1, 10, 0, 0, 123e6, time.UTC)
	env, err := New(nil, testSecret, WithClock(func() time.Time { return fixed }))
	require.NoError(t, err)
	return env
}

func txData() map[string]any {
	return map[string]any{
		"transactionId": "t1",
		"accountId":     "a1",
		"amount":        150.50,
		"currency":      "USD",
		"type":          "income",
	}
}

func TestCreateEventRoundTrip(t *testing.T) {
	env := newTestEnvelope(t)
	ev, err := env.CreateEvent(TypeFinbotTransactionCreated, SourceFinbot, txData(), nil)
	require.NoError(t, err)

	assert.Equal(t, "2024-05-01T10:00:00.123Z", ev.Timestamp)
	assert.Equal(t, DefaultVersion, ev.Version)
	assert.Len(t, ev.Signature, 64)
	assert.True(t, env.VerifySignature(ev))

	raw, err := ev.Marshal()
	require.NoError(t, err)
	parsed, err := env.ParseEvent(raw)
	require.NoError(t, err)
	require.NotNil(t, parsed)
	assert.Equal(t, ev.ID, parsed.ID)
	assert.Equal(t, json.Number("150.5"), parsed.Data["amount"])

	var p FinbotTransactionCreated
	require.NoError(t, parsed.Decode(&p))
	require.NotNil(t, p.Amount)
	assert.InDelta(t, 150.5, *p.Amount, 1e-9)
}

func TestMutationBreaksSignature(t *testing.T) {
	env := newTestEnvelope(t)
	ev, err := env.CreateEvent(TypeFinbotTransactionCreated, SourceFinbot, txData(), nil)
	require.NoError(t, err)

	mutations := map[string]func(e *Event){
		"id":        func(e *Event) { e.ID = "00000000-0000-4000-8000-000000000000" },
		"type":      func(e *Event) { e.Type = TypeFinbotTransactionUpdated },
		"timestamp": func(e *Event) { e.Timestamp = "2024-05-01T10:00:01.000Z" },
		"source":    func(e *Event) { e.Source = SourceMubot },
		"data":      func(e *Event) { e.Data["amount"] = json.Number("1") },
		"version":   func(e *Event) { e.Version = "2.0.0" },
		"signature": func(e *Event) { e.Signature = "zz" },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			c := ev.Clone()
			mutate(c)
			assert.False(t, env.VerifySignature(c))
		})
	}
	assert.True(t, env.VerifySignature(ev), "clone mutations must not leak")
}

func TestCreateEventValidation(t *testing.T) {
	env := newTestEnvelope(t)

	_, err := env.CreateEvent("finbot.unknown.thing", SourceFinbot, txData(), nil)
	var ve *buserr.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "type", ve.Field)

	_, err = env.CreateEvent(TypeFinbotTransactionCreated, "crm", txData(), nil)
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "source", ve.Field)

	bad := txData()
	delete(bad, "amount")
	_, err = env.CreateEvent(TypeFinbotTransactionCreated, SourceFinbot, bad, nil)
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "data.amount", ve.Field)

	bad = txData()
	bad["type"] = "refund"
	_, err = env.CreateEvent(TypeFinbotTransactionCreated, SourceFinbot, bad, nil)
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "data.type", ve.Field)

	_, err = env.CreateEvent(TypeFinbotAccountCreated, SourceFinbot, []int{1}, nil)
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "data", ve.Field)
}

func TestCreateEventExplicitSchema(t *testing.T) {
	env := newTestEnvelope(t)
	reject := SchemaFunc(func(map[string]any) error { return errors.New("nope") })
	_, err := env.CreateEvent(TypeFinbotAccountCreated, SourceFinbot, map[string]any{"x": 1}, reject)
	assert.True(t, buserr.IsPermanent(err))

	ev, err := env.CreateEvent(TypeFinbotAccountCreated, SourceFinbot, struct {
		Name string `json:"name"`
	}{"ops"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "ops", ev.Data["name"])
}

func TestParseEventRejects(t *testing.T) {
	env := newTestEnvelope(t)
	ev, err := env.CreateEvent(TypeFinbotTransactionCreated, SourceFinbot, txData(), nil)
	require.NoError(t, err)

	other, err := New(nil, []byte("another-secret-another-secret-xx"))
	require.NoError(t, err)
	raw, _ := ev.Marshal()
	got, err := other.ParseEvent(raw)
	assert.Nil(t, got)
	var se *buserr.SignatureError
	assert.ErrorAs(t, err, &se)

	encode := func(mutate func(m map[string]any)) []byte {
		var m map[string]any
		require.NoError(t, json.Unmarshal(raw, &m))
		mutate(m)
		b, _ := json.Marshal(m)
		return b
	}
	cases := map[string][]byte{
		"not json":      []byte("{not json"),
		"array":         []byte("[]"),
		"bad id":        encode(func(m map[string]any) { m["id"] = "nope" }),
		"unknown type":  encode(func(m map[string]any) { m["type"] = "x.y.z" }),
		"unknown src":   encode(func(m map[string]any) { m["source"] = "crm" }),
		"bad timestamp": encode(func(m map[string]any) { m["timestamp"] = "yesterday" }),
		"data array":    encode(func(m map[string]any) { m["data"] = []any{1} }),
		"no signature":  encode(func(m map[string]any) { delete(m, "signature") }),
		"tampered":      encode(func(m map[string]any) { m["data"].(map[string]any)["amount"] = 1 }),
	}
	for name, b := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := env.ParseEvent(b)
			assert.Nil(t, got)
			assert.Error(t, err)
			assert.True(t, buserr.IsPermanent(err))
		})
	}
}

func TestParseEventDefaultsVersionBeforeVerifying(t *testing.T) {
	env := newTestEnvelope(t)
	ev, err := env.CreateEvent(TypeFinbotTransactionCreated, SourceFinbot, txData(), nil)
	require.NoError(t, err)
	raw, err := ev.Marshal()
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	delete(m, "version")
	versionless, err := json.Marshal(m)
	require.NoError(t, err)

	parsed, err := env.ParseEvent(versionless)
	require.NoError(t, err)
	require.NotNil(t, parsed)
	assert.Equal(t, DefaultVersion, parsed.Version)
	assert.True(t, env.VerifySignature(parsed), "accepted event must still verify")

	again, err := parsed.Marshal()
	require.NoError(t, err)
	reparsed, err := env.ParseEvent(again)
	require.NoError(t, err)
	assert.Equal(t, parsed.Signature, reparsed.Signature)
}

func TestResignAfterEdit(t *testing.T) {
	env := newTestEnvelope(t)
	ev, err := env.CreateEvent(TypeMubotIngestionCompleted, SourceMubot, map[string]any{"rows": 10}, nil)
	require.NoError(t, err)
	c := ev.Clone()
	c.Data["rows"] = json.Number("11")
	assert.False(t, env.VerifySignature(c))
	signed, err := env.Sign(c)
	require.NoError(t, err)
	assert.True(t, env.VerifySignature(signed))
	assert.NotEqual(t, ev.Signature, signed.Signature)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry("")
	assert.Equal(t, DefaultVersion, r.Version())
	assert.Error(t, r.Register("flat", nil))
	assert.Error(t, r.Register("two.parts", nil))
	require.NoError(t, r.Register("crm.lead.converted", nil))
	assert.Error(t, r.Register("crm.lead.converted", nil))
	assert.Equal(t, []string{"crm.lead.converted"}, r.Types())
	assert.Len(t, DefaultRegistry().Types(), 8)

	_, err := New(r, nil)
	assert.Error(t, err)
}
