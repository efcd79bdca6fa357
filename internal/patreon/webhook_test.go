package patreon_test

import (
	"crypto/hmac"
	"crypto/md5" //nolint:gosec // matches the provider's signature scheme
	"encoding/hex"
	"testing"

	"github.com/mellow-sync/mellow/internal/patreon"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifySignature(t *testing.T) {
	t.Parallel()

	body := []byte(`{"data": {}}`)
	mac := hmac.New(md5.New, []byte("secret"))
	mac.Write(body)
	signature := hex.EncodeToString(mac.Sum(nil))

	tests := []struct {
		name      string
		secret    string
		signature string
		wantErr   bool
	}{
		{name: "valid", secret: "secret", signature: signature},
		{name: "wrong secret", secret: "other", signature: signature, wantErr: true},
		{name: "not hex", secret: "secret", signature: "zz", wantErr: true},
		{name: "disabled", secret: "", signature: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := patreon.VerifySignature(tt.secret, body, tt.signature)
			if tt.wantErr {
				require.ErrorIs(t, err, patreon.ErrInvalidSignature)
				return
			}

			require.NoError(t, err)
		})
	}
}

func TestParseMemberWebhook(t *testing.T) {
	t.Parallel()

	body := []byte(`{
		"data": {
			"id": "m-9", "type": "member",
			"attributes": {"patron_status": "former_patron"},
			"relationships": {
				"user": {"data": {"id": "p-9", "type": "user"}},
				"campaign": {"data": {"id": "c-1", "type": "campaign"}},
				"currently_entitled_tiers": {"data": []}
			}
		}
	}`)

	pledge, err := patreon.ParseMemberWebhook(body)
	require.NoError(t, err)

	assert.Equal(t, "p-9", pledge.UserID)
	assert.Equal(t, "c-1", pledge.CampaignID)
	assert.False(t, pledge.Active)
	assert.Empty(t, pledge.TierIDs)

	_, err = patreon.ParseMemberWebhook([]byte(`{"data": {"id": "m-1"}}`))
	require.Error(t, err)
}
