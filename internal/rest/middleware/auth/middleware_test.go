package auth_test

import (
	"testing"

	"github.com/mellow-sync/mellow/internal/rest/middleware/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerify(t *testing.T) {
	t.Parallel()

	key := []byte("secret")
	body := []byte(`{"type":"INSERT"}`)

	tests := []struct {
		name      string
		key       []byte
		signature string
		wantErr   bool
	}{
		{name: "valid", key: key, signature: auth.Sign(key, body)},
		{name: "other key", key: key, signature: auth.Sign([]byte("other"), body), wantErr: true},
		{name: "not hex", key: key, signature: "xyz", wantErr: true},
		{name: "no key configured", key: nil, signature: auth.Sign(nil, body), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := auth.Verify(tt.key, body, tt.signature)
			if tt.wantErr {
				require.ErrorIs(t, err, auth.ErrInvalidSignature)
				return
			}

			assert.NoError(t, err)
		})
	}
}
