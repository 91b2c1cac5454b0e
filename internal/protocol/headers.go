package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Protocol header names. The legacy/v1 headers carry base64-encoded JSON;
// the v2 headers carry plain JSON or URL-safe base64 depending on the
// call site, so decoding attempts both paths.
const (
	HeaderPaymentV1         = "X-PAYMENT"
	HeaderPaymentResponseV1 = "X-PAYMENT-RESPONSE"
	HeaderPaymentRequiredV1 = "X-PAYMENT-REQUIRED"

	HeaderPaymentV2         = "PAYMENT-SIGNATURE"
	HeaderPaymentResponseV2 = "PAYMENT-RESPONSE"
	HeaderPaymentRequiredV2 = "PAYMENT-REQUIRED"
)

// Headers lists every protocol header, for CORS allow lists.
func Headers() []string {
	return []string{
		HeaderPaymentV1, HeaderPaymentResponseV1, HeaderPaymentRequiredV1,
		HeaderPaymentV2, HeaderPaymentResponseV2, HeaderPaymentRequiredV2,
	}
}

// EncodeHeaderV1 serializes v as standard-base64 JSON (X-PAYMENT family).
func EncodeHeaderV1(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode header: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// EncodeHeaderV2 serializes v as plain JSON (PAYMENT-SIGNATURE family).
func EncodeHeaderV2(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode header: %w", err)
	}
	return string(raw), nil
}

// DecodeHeader decodes a protocol header value into v. When the protocol
// version is ambiguous all encodings are tried: plain JSON first, then
// URL-safe base64, then standard base64.
func DecodeHeader(value string, v any) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return fmt.Errorf("empty header value")
	}

	if strings.HasPrefix(value, "{") || strings.HasPrefix(value, "[") {
		if err := json.Unmarshal([]byte(value), v); err == nil {
			return nil
		}
	}
	if raw, err := base64.URLEncoding.DecodeString(value); err == nil {
		if err := json.Unmarshal(raw, v); err == nil {
			return nil
		}
	}
	if raw, err := base64.StdEncoding.DecodeString(value); err == nil {
		if err := json.Unmarshal(raw, v); err == nil {
			return nil
		}
	}
	return fmt.Errorf("header value is neither JSON nor base64-encoded JSON")
}

// DecodePaymentHeader decodes an X-PAYMENT or PAYMENT-SIGNATURE value.
func DecodePaymentHeader(value string) (*PaymentPayload, error) {
	var p PaymentPayload
	if err := DecodeHeader(value, &p); err != nil {
		return nil, fmt.Errorf("decode payment header: %w", err)
	}
	return &p, nil
}
