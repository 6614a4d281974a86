// Package alert turns inbound intrusion-detection payloads into validated
// alerts. Normalize accepts the payload shapes IDS pipelines emit and
// Validate checks the canonical one.
package alert

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/invisible-tech/ips-responder/internal/types"
)

// Code categorizes a validation failure.
type Code string

const (
	CodeInvalidAddress Code = "InvalidAddress"
	CodeMissingField   Code = "MissingField"
	CodeInvalidField   Code = "InvalidField"
	CodeMalformed      Code = "MalformedPayload"
)

var (
	ErrInvalidAddress = errors.New("invalid source address")
	ErrMissingField   = errors.New("missing required field")
	ErrInvalidField   = errors.New("invalid field")
	ErrMalformed      = errors.New("malformed alert payload")
)

var codeSentinels = map[Code]error{
	CodeInvalidAddress: ErrInvalidAddress,
	CodeMissingField:   ErrMissingField,
	CodeInvalidField:   ErrInvalidField,
	CodeMalformed:      ErrMalformed,
}

// ValidationError reports why an alert was rejected. Value echoes the
// offending input.
type ValidationError struct {
	Code   Code   `json:"code"`
	Field  string `json:"field"`
	Value  string `json:"value"`
	Reason string `json:"detail"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s=%q: %s", e.Code, e.Field, e.Value, e.Reason)
}

// Is lets errors.Is match a ValidationError against the sentinel for its code.
func (e *ValidationError) Is(target error) bool {
	return codeSentinels[e.Code] == target
}

// Raw is the canonical inbound alert before validation. Fields hold
// whatever the JSON decoder produced so coercion can be lenient.
type Raw struct {
	Date          any    `json:"date"`
	SignatureID   any    `json:"signature_id"`
	SourceAddress any    `json:"src_ip"`
	SignatureText string `json:"signature_text,omitempty"`
	Message       string `json:"message,omitempty"`
}

// Validator checks raw alerts. Now supplies the fallback receive time.
type Validator struct {
	Now func() time.Time
}

// Validate checks raw with the wall clock as fallback time.
func Validate(raw Raw) (types.Alert, error) {
	return Validator{}.Validate(raw)
}

// Validate returns a complete alert or a single *ValidationError. The
// address is checked first so a bad address is reported even when other
// fields are also wrong.
func (v Validator) Validate(raw Raw) (types.Alert, error) {
	addr, err := parseIPv4(raw.SourceAddress)
	if err != nil {
		return types.Alert{}, err
	}

	if raw.SignatureID == nil {
		return types.Alert{}, &ValidationError{
			Code: CodeMissingField, Field: "signature_id", Reason: "signature_id is required",
		}
	}
	sigID, ok := coerceInt(raw.SignatureID)
	if !ok {
		return types.Alert{}, &ValidationError{
			Code: CodeInvalidField, Field: "signature_id", Value: fmt.Sprint(raw.SignatureID),
			Reason: "signature_id must be an integer",
		}
	}

	received, ok := coerceUnix(raw.Date)
	if !ok {
		received = v.now()
	}

	msg := raw.SignatureText
	if msg == "" {
		msg = raw.Message
	}

	return types.Alert{
		ReceivedAt:    received.UTC(),
		SignatureID:   sigID,
		SourceAddress: addr,
		Message:       msg,
	}, nil
}

func (v Validator) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now()
}

// ValidIPv4 reports whether s is a plain dotted-quad IPv4 address.
func ValidIPv4(s string) bool {
	_, err := parseIPv4(s)
	return err == nil
}

func parseIPv4(v any) (string, error) {
	s, isString := v.(string)
	if !isString {
		value := ""
		if v != nil {
			value = fmt.Sprint(v)
		}
		return "", &ValidationError{
			Code: CodeInvalidAddress, Field: "src_ip", Value: value,
			Reason: "src_ip must be an IPv4 address string",
		}
	}
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return "", &ValidationError{Code: CodeInvalidAddress, Field: "src_ip", Value: s, Reason: err.Error()}
	}
	if !addr.Is4() {
		return "", &ValidationError{Code: CodeInvalidAddress, Field: "src_ip", Value: s, Reason: "only IPv4 addresses are accepted"}
	}
	return addr.String(), nil
}

func coerceInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) || n > math.MaxInt32 || n < math.MinInt32 {
			return 0, false
		}
		return int(n), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i), true
		}
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return coerceInt(f)
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		return i, err == nil
	default:
		return 0, false
	}
}

func coerceUnix(v any) (time.Time, bool) {
	switch n := v.(type) {
	case float64:
		return unixFloat(n)
	case int:
		return unixFloat(float64(n))
	case int64:
		return unixFloat(float64(n))
	case json.Number:
		return unixDecimal(string(n))
	case string:
		return unixDecimal(strings.TrimSpace(n))
	default:
		return time.Time{}, false
	}
}

func unixFloat(secs float64) (time.Time, bool) {
	if math.IsNaN(secs) || math.IsInf(secs, 0) || secs < 0 {
		return time.Time{}, false
	}
	whole, frac := math.Modf(secs)
	return time.Unix(int64(whole), int64(frac*1e9)), true
}

// unixDecimal parses "seconds[.fraction]" without going through float64 so
// microsecond EVE timestamps keep their precision.
func unixDecimal(s string) (time.Time, bool) {
	whole, frac, hasFrac := strings.Cut(s, ".")
	secs, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || secs < 0 {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return time.Time{}, false
		}
		return unixFloat(f)
	}
	if !hasFrac || frac == "" {
		return time.Unix(secs, 0), true
	}
	if len(frac) > 9 {
		frac = frac[:9]
	}
	frac += strings.Repeat("0", 9-len(frac))
	nanos, err := strconv.ParseInt(frac, 10, 64)
	if err != nil || nanos < 0 {
		// exponent forms such as "1.7e9"
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return time.Time{}, false
		}
		return unixFloat(f)
	}
	return time.Unix(secs, nanos), true
}
