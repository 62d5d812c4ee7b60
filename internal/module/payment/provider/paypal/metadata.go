package paypal

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// CustomFieldMaxLength is the byte limit PayPal enforces on the
// custom_id field of a purchase unit.
const CustomFieldMaxLength = 127

// OrderMetadata is the order context carried through the gateway in the
// custom_id field. It is the only link back from a webhook event to the
// local order, so the encoded form has to survive the 127-byte limit.
type OrderMetadata struct {
	ChannelToken string
	OrderCode    string
	OrderID      string
	LanguageCode string
	// Extra holds additional short keys merchants attach. Keys must not
	// collide with the reserved single-letter keys.
	Extra map[string]string
}

// Single-letter wire keys keep the encoded document inside the
// custom_id length limit.
const (
	metaKeyChannel  = "c"
	metaKeyCode     = "o"
	metaKeyID       = "i"
	metaKeyLanguage = "l"
)

// EncodeOrderMetadata serializes metadata for the custom_id field. It
// fails when the encoded form would exceed CustomFieldMaxLength, since
// a truncated document could not be decoded on the way back.
func EncodeOrderMetadata(md *OrderMetadata) (string, error) {
	doc := map[string]string{
		metaKeyChannel: md.ChannelToken,
		metaKeyCode:    md.OrderCode,
		metaKeyID:      md.OrderID,
	}
	if md.LanguageCode != "" {
		doc[metaKeyLanguage] = md.LanguageCode
	}
	for k, v := range md.Extra {
		switch k {
		case metaKeyChannel, metaKeyCode, metaKeyID, metaKeyLanguage:
			return "", fmt.Errorf("metadata key %q is reserved", k)
		}
		doc[k] = v
	}

	encoded, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encode order metadata: %w", err)
	}
	if len(encoded) > CustomFieldMaxLength {
		return "", fmt.Errorf(
			"order metadata is %d bytes, custom field allows %d",
			len(encoded), CustomFieldMaxLength,
		)
	}
	return string(encoded), nil
}

// DecodeOrderMetadata parses a custom_id value coming back from the
// gateway. Webhook payloads are attacker-reachable, so a malformed or
// incomplete document is reported once and yields nil rather than an
// error the caller might retry on.
func DecodeOrderMetadata(raw string, logger *zap.Logger) *OrderMetadata {
	var doc map[string]string
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		logger.Error("undecodable order metadata in custom field",
			zap.String("custom_id", raw),
			zap.Error(err))
		return nil
	}

	md := &OrderMetadata{
		ChannelToken: doc[metaKeyChannel],
		OrderCode:    doc[metaKeyCode],
		OrderID:      doc[metaKeyID],
		LanguageCode: doc[metaKeyLanguage],
	}
	if md.ChannelToken == "" || md.OrderCode == "" || md.OrderID == "" {
		logger.Error("incomplete order metadata in custom field",
			zap.String("custom_id", raw))
		return nil
	}

	for k, v := range doc {
		switch k {
		case metaKeyChannel, metaKeyCode, metaKeyID, metaKeyLanguage:
		default:
			if md.Extra == nil {
				md.Extra = make(map[string]string)
			}
			md.Extra[k] = v
		}
	}
	return md
}
