package protocol

import (
	"encoding/base64"
	"testing"
)

func TestHeadersListsAllProtocolHeaders(t *testing.T) {
	headers := Headers()
	if len(headers) != 6 {
		t.Fatalf("Headers() has %d entries, want 6", len(headers))
	}
	seen := make(map[string]bool, len(headers))
	for _, h := range headers {
		seen[h] = true
	}
	for _, want := range []string{HeaderPaymentV1, HeaderPaymentResponseV1, HeaderPaymentRequiredV1, HeaderPaymentV2, HeaderPaymentResponseV2, HeaderPaymentRequiredV2} {
		if !seen[want] {
			t.Errorf("missing header %s", want)
		}
	}
}

func TestEncodeDecodeHeaderV1(t *testing.T) {
	payload := mustPayload(t, v1PayloadJSON)
	encoded, err := EncodeHeaderV1(payload)
	if err != nil {
		t.Fatalf("EncodeHeaderV1: %v", err)
	}
	if _, err := base64.StdEncoding.DecodeString(encoded); err != nil {
		t.Fatalf("v1 header is not standard base64: %v", err)
	}

	decoded, err := DecodePaymentHeader(encoded)
	if err != nil {
		t.Fatalf("DecodePaymentHeader: %v", err)
	}
	if decoded.Network != "base" {
		t.Errorf("network = %q", decoded.Network)
	}
	if decoded.Payload == nil || decoded.Payload.Authorization == nil {
		t.Fatal("nested authorization lost in round trip")
	}
	if decoded.Payload.Authorization.Value != "1000000" {
		t.Errorf("value = %q", decoded.Payload.Authorization.Value)
	}
}

func TestEncodeDecodeHeaderV2PlainJSON(t *testing.T) {
	payload := mustPayload(t, v2PayloadJSON)
	encoded, err := EncodeHeaderV2(payload)
	if err != nil {
		t.Fatalf("EncodeHeaderV2: %v", err)
	}
	if encoded[0] != '{' {
		t.Fatalf("v2 header should be plain JSON, got %q...", encoded[:1])
	}

	decoded, err := DecodePaymentHeader(encoded)
	if err != nil {
		t.Fatalf("DecodePaymentHeader: %v", err)
	}
	if decoded.AssetID != "eip155:8453/erc20:"+usdcBase {
		t.Errorf("assetId = %q", decoded.AssetID)
	}
}

func TestDecodeHeaderURLSafeBase64(t *testing.T) {
	encoded := base64.URLEncoding.EncodeToString([]byte(v2PayloadJSON))
	decoded, err := DecodePaymentHeader(encoded)
	if err != nil {
		t.Fatalf("DecodePaymentHeader: %v", err)
	}
	if decoded.From != payerAddr {
		t.Errorf("from = %q", decoded.From)
	}
}

func TestDecodeHeaderRejectsGarbage(t *testing.T) {
	for _, bad := range []string{"", "   ", "not base64 and not json", "0x1234"} {
		if _, err := DecodePaymentHeader(bad); err == nil {
			t.Errorf("DecodePaymentHeader(%q) succeeded, want error", bad)
		}
	}
}
