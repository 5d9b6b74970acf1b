package services

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/ruralpay/offline-wallet/internal/models"
	"github.com/skip2/go-qrcode"
	"github.com/stellar/go/strkey"
)

const (
	addressLength = 56
	qrImageSize   = 256
	memoTypeText  = "MEMO_TEXT"
)

var ErrInvalidAddress = errors.New("invalid Stellar address")

// QRService decodes scanned payment payloads and renders receive codes
type QRService struct {
	network string
}

func NewQRService(network string) *QRService {
	if network == "" {
		network = "testnet"
	}
	return &QRService{network: network}
}

// Parse normalizes a scanned payload. It never fails; payloads it cannot
// read come back with format unknown and the raw text as destination.
func (s *QRService) Parse(raw string) models.ParsedIntent {
	if intent, ok := parsePlain(raw); ok {
		return intent
	}
	if intent, ok := parseURI(raw); ok {
		return intent
	}
	if intent, ok := parseJSON(raw); ok {
		return intent
	}
	return models.ParsedIntent{
		Destination: raw,
		Format:      models.FormatUnknown,
		RawData:     raw,
		IsValid:     false,
	}
}

func parsePlain(raw string) (models.ParsedIntent, bool) {
	if !strings.HasPrefix(raw, "G") || len(raw) != addressLength {
		return models.ParsedIntent{}, false
	}
	return finish(models.ParsedIntent{
		Destination: raw,
		Format:      models.FormatPlain,
		RawData:     raw,
	}), true
}

// parseURI accepts stellar:<addr>?amount=&memo=, stellar://<addr> and the
// SEP-0007 web+stellar:pay?destination= form.
func parseURI(raw string) (models.ParsedIntent, bool) {
	lower := strings.ToLower(raw)
	if !strings.HasPrefix(lower, "stellar:") && !strings.HasPrefix(lower, "web+stellar:") {
		return models.ParsedIntent{}, false
	}

	u, err := url.Parse(raw)
	if err != nil {
		return models.ParsedIntent{}, false
	}
	q := u.Query()

	intent := models.ParsedIntent{
		Amount:  q.Get("amount"),
		Memo:    q.Get("memo"),
		Network: q.Get("network"),
		Format:  models.FormatURI,
		RawData: raw,
	}
	if intent.Network == "" {
		intent.Network = q.Get("network_passphrase")
	}

	if u.Scheme == "web+stellar" {
		if u.Opaque != "pay" {
			return models.ParsedIntent{}, false
		}
		intent.Destination = q.Get("destination")
	} else {
		intent.Destination = firstNonEmpty(u.Opaque, u.Host, strings.TrimPrefix(u.Path, "/"))
	}

	intent = finish(intent)
	if mt := q.Get("memo_type"); mt != "" && mt != memoTypeText {
		// only text memos can be attached to a queued payment
		intent.IsValid = false
	}
	return intent, true
}

func parseJSON(raw string) (models.ParsedIntent, bool) {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") {
		return models.ParsedIntent{}, false
	}

	dec := json.NewDecoder(strings.NewReader(trimmed))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return models.ParsedIntent{}, false
	}

	destination, _ := obj["destination"].(string)
	if destination == "" {
		destination, _ = obj["address"].(string)
	}

	return finish(models.ParsedIntent{
		Destination: destination,
		Amount:      scalarString(obj["amount"]),
		Memo:        scalarString(obj["memo"]),
		Format:      models.FormatJSON,
		RawData:     raw,
	}), true
}

// finish computes IsValid for a recognized payload
func finish(intent models.ParsedIntent) models.ParsedIntent {
	intent.IsValid = strkey.IsValidEd25519PublicKey(intent.Destination) &&
		(intent.Amount == "" || models.IsValidAmount(intent.Amount))
	return intent
}

// scalarString keeps JSON numbers in their literal form
func scalarString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// PaymentURI builds the stellar: URI a payer's wallet will scan
func (s *QRService) PaymentURI(address, amount, memo string) (string, error) {
	if !strkey.IsValidEd25519PublicKey(address) {
		return "", ErrInvalidAddress
	}
	if amount != "" && !models.IsPayableAmount(amount) {
		return "", models.ErrInvalidAmount
	}

	q := url.Values{}
	q.Set("network", s.network)
	if amount != "" {
		q.Set("amount", amount)
	}
	if memo != "" {
		q.Set("memo", memo)
	}
	return "stellar:" + address + "?" + q.Encode(), nil
}

// Generate renders a receive QR code and returns the encoded URI with a
// base64 PNG of it.
func (s *QRService) Generate(address, amount, memo string) (string, string, error) {
	uri, err := s.PaymentURI(address, amount, memo)
	if err != nil {
		return "", "", err
	}

	png, err := qrcode.Encode(uri, qrcode.High, qrImageSize)
	if err != nil {
		return "", "", fmt.Errorf("failed to render QR code: %w", err)
	}

	return uri, base64.StdEncoding.EncodeToString(png), nil
}
