package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

func TestDecodeRideEvent(t *testing.T) {
	t.Run("full JSON payload", func(t *testing.T) {
		raw := []byte(`{
			"id_corrida": "r1",
			"passageiro": {"nome": "Bia", "telefone": "1199"},
			"motorista": {"nome": "Ana", "nota": 4.8},
			"origem": "Centro",
			"destino": "Aeroporto",
			"valor_corrida": 35.50,
			"forma_pagamento": "Pix",
			"data_criacao": "2024-03-09T08:15:30.250-03:00"
		}`)

		event, err := DecodeRideEvent(raw, clock)

		require.NoError(t, err)
		assert.Equal(t, "r1", event.RideID())
		assert.Equal(t, "Ana", event.DriverName())
		assert.True(t, decimal.RequireFromString("35.5").Equal(event.FareAmount()))
		assert.Equal(t, time.Date(2024, 3, 9, 11, 15, 30, 250_000_000, time.UTC), event.CreatedAt())
		assert.Equal(t, "Pix", event.PaymentMethod())

		attrs := event.Attributes()
		assert.Equal(t, "Centro", attrs["origem"])
		assert.Equal(t, json.Number("4.8"), attrs["motorista"].(map[string]interface{})["nota"])
		assert.NotContains(t, attrs, FieldRideID)
	})

	t.Run("structured map payload", func(t *testing.T) {
		payload := map[string]interface{}{
			"id_corrida":    "r2",
			"motorista":     map[string]interface{}{"nome": "Caio"},
			"valor_corrida": 12.0,
		}

		event, err := DecodeRideEvent(payload, clock)

		require.NoError(t, err)
		assert.True(t, decimal.NewFromInt(12).Equal(event.FareAmount()))
		assert.Equal(t, fixedNow, event.CreatedAt())

		payload["id_corrida"] = "changed"
		assert.Equal(t, "r2", event.RideID())
	})

	t.Run("numeric string fare keeps exact digits", func(t *testing.T) {
		event, err := DecodeRideEvent(`{"id_corrida":"r3","motorista":{"nome":"Ana"},"valor_corrida":"0.10"}`, clock)

		require.NoError(t, err)
		assert.Equal(t, "0.1", event.FareAmount().String())
	})

	t.Run("timestamp fallback", func(t *testing.T) {
		cases := map[string]string{
			"absent":     `{"id_corrida":"r4","motorista":{"nome":"Ana"},"valor_corrida":10}`,
			"unparsable": `{"id_corrida":"r4","motorista":{"nome":"Ana"},"valor_corrida":10,"data_criacao":"ontem"}`,
			"empty":      `{"id_corrida":"r4","motorista":{"nome":"Ana"},"valor_corrida":10,"data_criacao":""}`,
			"wrong type": `{"id_corrida":"r4","motorista":{"nome":"Ana"},"valor_corrida":10,"data_criacao":17}`,
			"null":       `{"id_corrida":"r4","motorista":{"nome":"Ana"},"valor_corrida":10,"data_criacao":null}`,
		}
		for name, raw := range cases {
			t.Run(name, func(t *testing.T) {
				event, err := DecodeRideEvent(raw, clock)

				require.NoError(t, err)
				assert.Equal(t, fixedNow, event.CreatedAt())
			})
		}
	})

	t.Run("permissive timestamp layouts", func(t *testing.T) {
		cases := map[string]time.Time{
			"2024-03-09T08:15:30Z":     time.Date(2024, 3, 9, 8, 15, 30, 0, time.UTC),
			"2024-03-09T08:15:30.5":    time.Date(2024, 3, 9, 8, 15, 30, 500_000_000, time.UTC),
			"2024-03-09 08:15:30":      time.Date(2024, 3, 9, 8, 15, 30, 0, time.UTC),
			"2024-03-09T08:15:30+0100": time.Date(2024, 3, 9, 7, 15, 30, 0, time.UTC),
			"2024-03-09T08:15":         time.Date(2024, 3, 9, 8, 15, 0, 0, time.UTC),
			"2024-03-09":               time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC),
		}
		for input, want := range cases {
			t.Run(input, func(t *testing.T) {
				payload := map[string]interface{}{
					"id_corrida":    "r5",
					"motorista":     map[string]interface{}{"nome": "Ana"},
					"valor_corrida": json.Number("1"),
					"data_criacao":  input,
				}

				event, err := DecodeRideEvent(payload, clock)

				require.NoError(t, err)
				assert.Equal(t, want, event.CreatedAt())
			})
		}
	})
}

func TestDecodeRideEventMalformed(t *testing.T) {
	cases := []struct {
		name  string
		raw   interface{}
		field string
	}{
		{"nil payload", nil, ""},
		{"unsupported type", 42, ""},
		{"invalid utf8", []byte{0xff, 0xfe, '{', '}'}, ""},
		{"invalid json", `{"id_corrida":`, ""},
		{"array instead of object", `[1,2]`, ""},
		{"trailing data", `{"id_corrida":"r1"} {}`, ""},
		{"missing ride id", `{"motorista":{"nome":"Ana"},"valor_corrida":10}`, FieldRideID},
		{"blank ride id", `{"id_corrida":"  ","motorista":{"nome":"Ana"},"valor_corrida":10}`, FieldRideID},
		{"numeric ride id", `{"id_corrida":7,"motorista":{"nome":"Ana"},"valor_corrida":10}`, FieldRideID},
		{"missing driver", `{"id_corrida":"r1","valor_corrida":10}`, "motorista.nome"},
		{"driver not an object", `{"id_corrida":"r1","motorista":"Ana","valor_corrida":10}`, "motorista.nome"},
		{"missing fare", `{"id_corrida":"r1","motorista":{"nome":"Ana"}}`, FieldFare},
		{"null fare", `{"id_corrida":"r1","motorista":{"nome":"Ana"},"valor_corrida":null}`, FieldFare},
		{"zero fare", `{"id_corrida":"r1","motorista":{"nome":"Ana"},"valor_corrida":0}`, FieldFare},
		{"negative fare", `{"id_corrida":"r1","motorista":{"nome":"Ana"},"valor_corrida":-3.5}`, FieldFare},
		{"text fare", `{"id_corrida":"r1","motorista":{"nome":"Ana"},"valor_corrida":"dez"}`, FieldFare},
		{"boolean fare", `{"id_corrida":"r1","motorista":{"nome":"Ana"},"valor_corrida":true}`, FieldFare},
		{"huge exponent fare", `{"id_corrida":"r1","motorista":{"nome":"Ana"},"valor_corrida":1e20000000}`, FieldFare},
		{"huge negative fare", `{"id_corrida":"r1","motorista":{"nome":"Ana"},"valor_corrida":-1e200000000}`, FieldFare},
		{"tiny exponent fare", `{"id_corrida":"r1","motorista":{"nome":"Ana"},"valor_corrida":"1e-20000000"}`, FieldFare},
		{"too many digits", `{"id_corrida":"r1","motorista":{"nome":"Ana"},"valor_corrida":12345678901234567890123}`, FieldFare},
		{"too many decimals", `{"id_corrida":"r1","motorista":{"nome":"Ana"},"valor_corrida":0.000000001}`, FieldFare},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeRideEvent(tc.raw, clock)

			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformedEvent)

			var malformedErr *MalformedEventError
			require.True(t, errors.As(err, &malformedErr))
			assert.Equal(t, tc.field, malformedErr.Field)
		})
	}
}

func TestEncodeRideEvent(t *testing.T) {
	event, err := NewRideEvent(
		"r9",
		"Ana",
		decimal.RequireFromString("35.50"),
		time.Date(2024, 3, 9, 8, 15, 30, 0, time.FixedZone("BRT", -3*3600)),
		map[string]interface{}{
			"forma_pagamento": "Pix",
			"motorista":       map[string]interface{}{"nota": json.Number("4.8")},
		},
	)
	require.NoError(t, err)

	body, err := EncodeRideEvent(event)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"id_corrida": "r9",
		"motorista": {"nome": "Ana", "nota": 4.8},
		"valor_corrida": 35.5,
		"data_criacao": "2024-03-09T11:15:30Z",
		"forma_pagamento": "Pix"
	}`, string(body))

	decoded, err := DecodeRideEvent(body, clock)
	require.NoError(t, err)
	assert.Equal(t, event.RideID(), decoded.RideID())
	assert.True(t, event.FareAmount().Equal(decoded.FareAmount()))
	assert.Equal(t, event.CreatedAt(), decoded.CreatedAt())
}
