package auth

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	csevm "github.com/clearskynet/clearsky/go/mechanisms/evm"
)

// DefaultChallengeTTL bounds the time between issuing a challenge and signing it
const DefaultChallengeTTL = 5 * time.Minute

var (
	ErrChallengeNotFound = errors.New("login challenge not found")
	ErrChallengeExpired  = errors.New("login challenge expired")
	ErrInvalidSignature  = errors.New(csevm.ErrInvalidSignature)
)

// WalletLogin opens sessions for wallets that sign an EIP-712 login
// challenge. Smart-contract wallets are checked through EIP-1271 and must
// already be deployed.
type WalletLogin struct {
	reader   csevm.SignatureReader
	sessions *Sessions
	chainID  *big.Int
	ttl      time.Duration
	now      func() time.Time

	mu      sync.Mutex
	pending map[string]csevm.LoginChallenge
}

// NewWalletLogin creates a login flow for chainID. reader may be nil, in which
// case only EOA signatures are accepted.
func NewWalletLogin(reader csevm.SignatureReader, sessions *Sessions, chainID *big.Int) *WalletLogin {
	if reader == nil {
		reader = eoaOnly{}
	}
	return &WalletLogin{
		reader:   reader,
		sessions: sessions,
		chainID:  chainID,
		ttl:      DefaultChallengeTTL,
		now:      time.Now,
		pending:  make(map[string]csevm.LoginChallenge),
	}
}

// Challenge issues a single-use challenge for wallet
func (l *WalletLogin) Challenge(wallet string) (csevm.LoginChallenge, error) {
	if !csevm.IsValidAddress(wallet) {
		return csevm.LoginChallenge{}, fmt.Errorf("invalid wallet address %q", wallet)
	}
	nonce, err := csevm.CreateNonce()
	if err != nil {
		return csevm.LoginChallenge{}, err
	}

	challenge := csevm.LoginChallenge{
		Wallet:   csevm.ChecksumAddress(wallet),
		Nonce:    nonce,
		IssuedAt: l.now().Unix(),
		ChainID:  new(big.Int).Set(l.chainID),
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune()
	l.pending[strings.ToLower(nonce)] = challenge
	return challenge, nil
}

// Login checks the signature over the challenge identified by nonce and
// issues a session. The challenge is consumed whatever the outcome.
func (l *WalletLogin) Login(ctx context.Context, wallet, nonce string, signature []byte) (*Session, error) {
	l.mu.Lock()
	challenge, ok := l.pending[strings.ToLower(nonce)]
	delete(l.pending, strings.ToLower(nonce))
	l.mu.Unlock()

	if !ok || !strings.EqualFold(challenge.Wallet, wallet) {
		return nil, ErrChallengeNotFound
	}
	if l.expired(challenge) {
		return nil, ErrChallengeExpired
	}

	digest, err := csevm.HashLoginChallenge(challenge)
	if err != nil {
		return nil, err
	}
	valid, _, err := csevm.VerifyUniversalSignature(ctx, l.reader, challenge.Wallet, digest, signature, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if !valid {
		return nil, ErrInvalidSignature
	}
	return l.sessions.Issue(challenge.Wallet, ""), nil
}

func (l *WalletLogin) expired(c csevm.LoginChallenge) bool {
	return l.now().After(time.Unix(c.IssuedAt, 0).Add(l.ttl))
}

// prune drops expired challenges; callers hold mu
func (l *WalletLogin) prune() {
	for nonce, c := range l.pending {
		if l.expired(c) {
			delete(l.pending, nonce)
		}
	}
}

type eoaOnly struct{}

func (eoaOnly) GetCode(context.Context, string) ([]byte, error) { return nil, nil }

func (eoaOnly) ReadContract(context.Context, string, []byte, string, ...interface{}) (interface{}, error) {
	return nil, errors.New("contract calls are not available")
}
