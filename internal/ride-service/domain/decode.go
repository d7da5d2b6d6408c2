package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// MalformedEventError reports a payload that can never become a valid ride,
// however often it is redelivered.
type MalformedEventError struct {
	Field  string
	Reason string
	Err    error
}

func (e *MalformedEventError) Error() string {
	msg := "malformed ride event"
	if e.Field != "" {
		msg += ": " + e.Field
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MalformedEventError) Is(target error) bool { return target == ErrMalformedEvent }

func (e *MalformedEventError) Unwrap() error { return e.Err }

func malformed(field, reason string, err error) error {
	return &MalformedEventError{Field: field, Reason: reason, Err: err}
}

// timestampLayouts are tried in order. Fractional seconds are accepted by
// time.Parse even when the layout omits them.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
	"2006-01-02",
}

// DecodeRideEvent turns a queue payload into a RideEvent. raw may be an
// already structured map or UTF-8 JSON as []byte, json.RawMessage or string.
// Missing or invalid required fields yield a *MalformedEventError. An absent
// or unparsable data_criacao is replaced by now() and never fails the event.
func DecodeRideEvent(raw interface{}, now func() time.Time) (RideEvent, error) {
	if now == nil {
		now = time.Now
	}

	payload, err := toPayload(raw)
	if err != nil {
		return RideEvent{}, err
	}

	rideID, _ := payload[FieldRideID].(string)
	if strings.TrimSpace(rideID) == "" {
		return RideEvent{}, malformed(FieldRideID, "missing or empty", nil)
	}

	driver, _ := payload[FieldDriver].(map[string]interface{})
	driverName, _ := driver[FieldDriverName].(string)
	if strings.TrimSpace(driverName) == "" {
		return RideEvent{}, malformed(FieldDriver+"."+FieldDriverName, "missing or empty", nil)
	}

	rawFare, ok := payload[FieldFare]
	if !ok || rawFare == nil {
		return RideEvent{}, malformed(FieldFare, "missing", nil)
	}
	fare, err := parseFare(rawFare)
	if err != nil {
		return RideEvent{}, malformed(FieldFare, "not a decimal", err)
	}
	if err := ValidateAmount(fare); err != nil {
		return RideEvent{}, malformed(FieldFare, "out of range", err)
	}
	if !fare.IsPositive() {
		return RideEvent{}, malformed(FieldFare, fmt.Sprintf("must be positive, got %s", fare), nil)
	}

	createdAt := parseTimestamp(payload[FieldCreatedAt], now)

	attributes := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		switch k {
		case FieldRideID, FieldFare, FieldCreatedAt:
			continue
		}
		attributes[k] = v
	}

	return NewRideEvent(rideID, driverName, fare, createdAt, attributes)
}

// EncodeRideEvent serializes the event as canonical JSON, data_criacao
// included as RFC 3339 text.
func EncodeRideEvent(e RideEvent) ([]byte, error) {
	body, err := json.Marshal(e.Document())
	if err != nil {
		return nil, fmt.Errorf("encode ride event %s: %w", e.RideID(), err)
	}
	return body, nil
}

func toPayload(raw interface{}) (map[string]interface{}, error) {
	var data []byte
	switch v := raw.(type) {
	case map[string]interface{}:
		return cloneMap(v), nil
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	case string:
		data = []byte(v)
	case nil:
		return nil, malformed("", "empty payload", nil)
	default:
		return nil, malformed("", fmt.Sprintf("unsupported payload type %T", raw), nil)
	}

	if !utf8.Valid(data) {
		return nil, malformed("", "payload is not valid UTF-8", nil)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var decoded interface{}
	if err := dec.Decode(&decoded); err != nil {
		return nil, malformed("", "invalid JSON", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, malformed("", "trailing data after JSON object", nil)
	}

	payload, ok := decoded.(map[string]interface{})
	if !ok {
		return nil, malformed("", "payload is not a JSON object", nil)
	}
	return payload, nil
}

func parseFare(v interface{}) (decimal.Decimal, error) {
	switch t := v.(type) {
	case json.Number:
		return decimal.NewFromString(t.String())
	case string:
		return decimal.NewFromString(strings.TrimSpace(t))
	case decimal.Decimal:
		return t, nil
	case float64:
		return decimal.NewFromFloat(t), nil
	case float32:
		return decimal.NewFromFloat32(t), nil
	case int:
		return decimal.NewFromInt(int64(t)), nil
	case int64:
		return decimal.NewFromInt(t), nil
	default:
		return decimal.Decimal{}, fmt.Errorf("unsupported type %T", v)
	}
}

func parseTimestamp(v interface{}, now func() time.Time) time.Time {
	switch t := v.(type) {
	case time.Time:
		if !t.IsZero() {
			return t.UTC()
		}
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			break
		}
		for _, layout := range timestampLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed.UTC()
			}
		}
	}
	return now().UTC()
}
