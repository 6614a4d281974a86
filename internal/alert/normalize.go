package alert

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EVE timestamps carry a numeric zone without a colon.
var eveTimeLayouts = []string{
	"2006-01-02T15:04:05.999999999-0700",
	time.RFC3339Nano,
}

// Normalize decodes an inbound payload into the canonical raw alert. It
// accepts the canonical object, a Suricata EVE record (optionally wrapped in
// a "log" object) and an Alertmanager webhook whose first alert carries the
// EVE record as a JSON string in annotations.summary.
func Normalize(data []byte) (Raw, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return Raw{}, &ValidationError{Code: CodeMalformed, Field: "body", Value: truncate(string(data)), Reason: err.Error()}
	}
	return fromDocument(doc, 0)
}

func fromDocument(doc map[string]any, depth int) (Raw, error) {
	if depth > 3 {
		return Raw{}, &ValidationError{Code: CodeMalformed, Field: "body", Reason: "alert nested too deeply"}
	}

	if alerts, ok := doc["alerts"].([]any); ok {
		return fromAlertmanager(alerts, depth)
	}
	if inner, ok := doc["log"]; ok {
		switch v := inner.(type) {
		case map[string]any:
			return fromDocument(v, depth+1)
		case string:
			return fromEmbedded("log", v, depth)
		}
	}
	if eve, ok := doc["alert"].(map[string]any); ok {
		return fromEVE(doc, eve), nil
	}

	raw := Raw{
		Date:          doc["date"],
		SignatureID:   doc["signature_id"],
		SourceAddress: doc["src_ip"],
	}
	raw.SignatureText, _ = doc["signature_text"].(string)
	raw.Message, _ = doc["message"].(string)
	return raw, nil
}

func fromAlertmanager(alerts []any, depth int) (Raw, error) {
	if len(alerts) == 0 {
		return Raw{}, &ValidationError{Code: CodeMissingField, Field: "alerts", Reason: "alerts array is empty"}
	}
	first, _ := alerts[0].(map[string]any)
	annotations, _ := first["annotations"].(map[string]any)
	summary, ok := annotations["summary"].(string)
	if !ok {
		return Raw{}, &ValidationError{
			Code: CodeMissingField, Field: "alerts[0].annotations.summary",
			Reason: "expected the EVE record as a JSON string",
		}
	}
	return fromEmbedded("alerts[0].annotations.summary", summary, depth)
}

func fromEmbedded(field, encoded string, depth int) (Raw, error) {
	dec := json.NewDecoder(strings.NewReader(encoded))
	dec.UseNumber()
	var inner map[string]any
	if err := dec.Decode(&inner); err != nil {
		return Raw{}, &ValidationError{Code: CodeMalformed, Field: field, Value: truncate(encoded), Reason: err.Error()}
	}
	return fromDocument(inner, depth+1)
}

func fromEVE(doc, eve map[string]any) Raw {
	raw := Raw{
		SignatureID:   eve["signature_id"],
		SourceAddress: doc["src_ip"],
	}
	raw.SignatureText, _ = eve["signature"].(string)
	if ts, ok := doc["timestamp"].(string); ok {
		for _, layout := range eveTimeLayouts {
			if t, err := time.Parse(layout, ts); err == nil {
				raw.Date = json.Number(fmt.Sprintf("%d.%09d", t.Unix(), t.Nanosecond()))
				break
			}
		}
	}
	if raw.Date == nil {
		raw.Date = doc["date"]
	}
	return raw
}

func truncate(s string) string {
	const max = 120
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
