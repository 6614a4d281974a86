package alert

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const eveRecord = `{"timestamp":"2024-05-02T10:15:30.123456+0000","event_type":"alert","src_ip":"10.244.0.12","dest_ip":"8.8.8.8","alert":{"signature_id":2013028,"signature":"ET POLICY curl User-Agent Outbound","severity":3}}`

func TestNormalize_Canonical(t *testing.T) {
	raw, err := Normalize([]byte(`{"date":1714644930,"signature_id":2013028,"src_ip":"10.244.0.12","signature_text":"ET POLICY curl"}`))
	require.NoError(t, err)

	a, err := testValidator().Validate(raw)
	require.NoError(t, err)
	assert.Equal(t, 2013028, a.SignatureID)
	assert.Equal(t, "10.244.0.12", a.SourceAddress)
	assert.Equal(t, int64(1714644930), a.ReceivedAt.Unix())
	assert.Equal(t, "ET POLICY curl", a.Message)
}

func TestNormalize_EVE(t *testing.T) {
	raw, err := Normalize([]byte(eveRecord))
	require.NoError(t, err)

	a, err := testValidator().Validate(raw)
	require.NoError(t, err)
	assert.Equal(t, 2013028, a.SignatureID)
	assert.Equal(t, "ET POLICY curl User-Agent Outbound", a.Message)
	assert.Equal(t, time.Date(2024, 5, 2, 10, 15, 30, 123456000, time.UTC), a.ReceivedAt)
}

func TestNormalize_LogWrapped(t *testing.T) {
	raw, err := Normalize([]byte(`{"log":` + eveRecord + `}`))
	require.NoError(t, err)
	a, err := testValidator().Validate(raw)
	require.NoError(t, err)
	assert.Equal(t, 2013028, a.SignatureID)
}

func TestNormalize_LogAsString(t *testing.T) {
	quoted, _ := json.Marshal(eveRecord)
	raw, err := Normalize([]byte(`{"log":` + string(quoted) + `}`))
	require.NoError(t, err)
	a, err := testValidator().Validate(raw)
	require.NoError(t, err)
	assert.Equal(t, "10.244.0.12", a.SourceAddress)
}

func TestNormalize_Alertmanager(t *testing.T) {
	body := map[string]any{
		"receiver": "ips",
		"alerts": []any{
			map[string]any{"annotations": map[string]any{"summary": eveRecord}},
		},
	}
	data, _ := json.Marshal(body)
	raw, err := Normalize(data)
	require.NoError(t, err)

	a, err := testValidator().Validate(raw)
	require.NoError(t, err)
	assert.Equal(t, 2013028, a.SignatureID)
	assert.Equal(t, "10.244.0.12", a.SourceAddress)
}

func TestNormalize_Errors(t *testing.T) {
	cases := []struct {
		name string
		body string
		want error
	}{
		{"not json", `{"date":`, ErrMalformed},
		{"array body", `[1,2]`, ErrMalformed},
		{"empty alerts", `{"alerts":[]}`, ErrMissingField},
		{"summary missing", `{"alerts":[{"annotations":{}}]}`, ErrMissingField},
		{"summary not json", `{"alerts":[{"annotations":{"summary":"oops"}}]}`, ErrMalformed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Normalize([]byte(tc.body))
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestNormalize_CanonicalMissingSignatureFailsValidation(t *testing.T) {
	raw, err := Normalize([]byte(`{"src_ip":"10.0.0.1"}`))
	require.NoError(t, err)
	_, err = testValidator().Validate(raw)
	assert.ErrorIs(t, err, ErrMissingField)
}
