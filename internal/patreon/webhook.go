package patreon

import (
	"crypto/hmac"
	"crypto/md5" //nolint:gosec // the provider signs webhooks with HMAC-MD5
	"encoding/hex"
	"fmt"

	"github.com/bytedance/sonic"
)

// SignatureHeader carries the hex HMAC-MD5 of a webhook body.
const SignatureHeader = "X-Patreon-Signature"

// VerifySignature checks a webhook signature. An empty secret disables the check.
func VerifySignature(secret string, body []byte, signature string) error {
	if secret == "" {
		return nil
	}

	expected, err := hex.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}

	mac := hmac.New(md5.New, []byte(secret))
	mac.Write(body)

	if !hmac.Equal(mac.Sum(nil), expected) {
		return ErrInvalidSignature
	}

	return nil
}

// ParseMemberWebhook decodes a members:* webhook into the pledge it describes.
func ParseMemberWebhook(body []byte) (*Pledge, error) {
	var document memberDocument
	if err := sonic.Unmarshal(body, &document); err != nil {
		return nil, fmt.Errorf("failed to decode webhook: %w", err)
	}

	if document.Data.Relationships.User.Data == nil {
		return nil, fmt.Errorf("webhook member %q has no user", document.Data.ID)
	}

	pledge := pledgeFromMember(document.Data, "")

	return &pledge, nil
}
