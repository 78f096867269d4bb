package auth

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	csevm "github.com/clearskynet/clearsky/go/mechanisms/evm"
)

func TestSessions(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sessions := NewSessions(time.Hour)
	sessions.now = func() time.Time { return now }

	session := sessions.Issue("0xabc", "ada@example.com")
	assert.Len(t, session.Token, 32)
	assert.Equal(t, now.Add(time.Hour), session.ExpiresAt)

	got, err := sessions.Lookup(session.Token)
	require.NoError(t, err)
	assert.Equal(t, "0xabc", got.Wallet)

	_, err = sessions.Lookup("nope")
	assert.ErrorIs(t, err, ErrUnknownSession)

	sessions.Issue("0xdef", "")
	now = now.Add(2 * time.Hour)
	_, err = sessions.Lookup(session.Token)
	assert.ErrorIs(t, err, ErrSessionExpired)
	_, err = sessions.Lookup(session.Token)
	assert.ErrorIs(t, err, ErrUnknownSession)

	assert.Equal(t, 1, sessions.Sweep())

	sessions.Put(&Session{Token: "provider", Wallet: "0x1"})
	_, err = sessions.Lookup("provider")
	require.NoError(t, err)
	sessions.Revoke("provider")
	_, err = sessions.Lookup("provider")
	assert.ErrorIs(t, err, ErrUnknownSession)
}

func TestOTPClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "proj-1", r.Header.Get("X-Project-ID"))
		w.Header().Set("Content-Type", "application/json")
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		switch r.URL.Path {
		case startOTPPath:
			assert.Equal(t, "ada@example.com", body["email"])
			_, _ = w.Write([]byte(`{"flowId":"flow-1"}`))
		case verifyOTPPath:
			if body["otp"] != "123456" {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"errorType":"invalid_otp","errorMessage":"code does not match"}`))
				return
			}
			_, _ = w.Write([]byte(`{"accessToken":"tok","walletAddress":"0x14791697260E4c9A71f18484C9f997B308e59325","expiresAt":"2030-01-01T00:00:00Z"}`))
		}
	}))
	defer srv.Close()

	client := NewOTPClient(srv.URL, "proj-1")
	ctx := context.Background()

	_, err := client.StartEmailOTP(ctx, "not-an-email")
	assert.ErrorContains(t, err, "invalid email")

	flowID, err := client.StartEmailOTP(ctx, " ada@example.com ")
	require.NoError(t, err)
	assert.Equal(t, "flow-1", flowID)

	_, err = client.VerifyOTP(ctx, flowID, "12")
	assert.ErrorIs(t, err, ErrInvalidOTP)

	_, err = client.VerifyOTP(ctx, flowID, "654321")
	assert.ErrorIs(t, err, ErrInvalidOTP)
	assert.ErrorContains(t, err, "code does not match")

	session, err := client.VerifyOTP(ctx, flowID, "123456")
	require.NoError(t, err)
	assert.Equal(t, "tok", session.Token)
	assert.Equal(t, 2030, session.ExpiresAt.Year())
}

func TestWalletLogin(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	wallet := crypto.PubkeyToAddress(key.PublicKey).Hex()

	sign := func(c csevm.LoginChallenge) []byte {
		digest, err := csevm.HashLoginChallenge(c)
		require.NoError(t, err)
		sig, err := crypto.Sign(digest[:], key)
		require.NoError(t, err)
		sig[64] += 27
		return sig
	}

	sessions := NewSessions(0)
	login := NewWalletLogin(nil, sessions, big.NewInt(1315))
	ctx := context.Background()

	_, err = login.Challenge("bob")
	assert.Error(t, err)

	challenge, err := login.Challenge(wallet)
	require.NoError(t, err)
	assert.Equal(t, int64(1315), challenge.ChainID.Int64())

	session, err := login.Login(ctx, wallet, challenge.Nonce, sign(challenge))
	require.NoError(t, err)
	assert.Equal(t, wallet, session.Wallet)
	_, err = sessions.Lookup(session.Token)
	require.NoError(t, err)

	// single use
	_, err = login.Login(ctx, wallet, challenge.Nonce, sign(challenge))
	assert.ErrorIs(t, err, ErrChallengeNotFound)

	other, err := crypto.GenerateKey()
	require.NoError(t, err)
	challenge, err = login.Challenge(wallet)
	require.NoError(t, err)
	digest, err := csevm.HashLoginChallenge(challenge)
	require.NoError(t, err)
	forged, err := crypto.Sign(digest[:], other)
	require.NoError(t, err)
	forged[64] += 27
	_, err = login.Login(ctx, wallet, challenge.Nonce, forged)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	challenge, err = login.Challenge(wallet)
	require.NoError(t, err)
	_, err = login.Login(ctx, crypto.PubkeyToAddress(other.PublicKey).Hex(), challenge.Nonce, sign(challenge))
	assert.ErrorIs(t, err, ErrChallengeNotFound)

	challenge, err = login.Challenge(wallet)
	require.NoError(t, err)
	login.now = func() time.Time { return time.Now().Add(DefaultChallengeTTL + time.Minute) }
	_, err = login.Login(ctx, wallet, challenge.Nonce, sign(challenge))
	assert.ErrorIs(t, err, ErrChallengeExpired)
}
