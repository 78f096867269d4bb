package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	clearsky "github.com/clearskynet/clearsky/go"
	"github.com/clearskynet/clearsky/go/config"
	cshttp "github.com/clearskynet/clearsky/go/http"
	"github.com/clearskynet/clearsky/go/mechanisms/evm"
	"github.com/clearskynet/clearsky/go/mechanisms/evm/license"
	"github.com/clearskynet/clearsky/go/notify"
	signer "github.com/clearskynet/clearsky/go/signers/evm"
	"github.com/clearskynet/clearsky/go/store"
)

// app holds what the commands share: configuration, logger and lazily built
// clients
type app struct {
	configPath string

	cfg     *config.Config
	logger  *zap.Logger
	closers []func()
	token   string
}

func (a *app) load(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	logger, err := cfg.Logger()
	if err != nil {
		return err
	}
	a.cfg, a.logger = cfg, logger
	a.token = cfg.Backend.Token
	return nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

func (a *app) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

func (a *app) backend() (*cshttp.BackendClient, error) {
	if a.cfg.Backend.URL == "" {
		return nil, errors.New("backend.url is not configured")
	}
	return cshttp.NewBackendClient(a.cfg.Backend.URL,
		cshttp.WithTokenSource(func() string { return a.token }),
		cshttp.WithClientLogger(a.logger.Named("backend")),
	), nil
}

// localSigner connects the configured private key to the configured chain
func (a *app) localSigner(ctx context.Context) (*signer.ClientSigner, error) {
	if a.cfg.Wallet.PrivateKey == "" {
		return nil, errors.New("wallet.private_key is not configured")
	}
	chain, err := a.cfg.Chain()
	if err != nil {
		return nil, err
	}
	s, err := signer.NewClientSignerFromPrivateKey(a.cfg.Wallet.PrivateKey,
		signer.WithReceiptPollInterval(a.cfg.Polling.Interval))
	if err != nil {
		return nil, err
	}
	if err := s.Connect(ctx, chain); err != nil {
		return nil, err
	}
	return s, nil
}

// wallet returns the buyer wallet: the provider endpoint when configured,
// the local key otherwise. The contract writer is nil for provider wallets.
func (a *app) wallet(ctx context.Context) (clearsky.Wallet, evm.ContractWriter, error) {
	if url := a.cfg.Wallet.ProviderURL; url != "" {
		w, err := signer.DialProviderWallet(ctx, url)
		if err != nil {
			return nil, nil, err
		}
		a.onClose(w.Close)
		return w, nil, nil
	}
	s, err := a.localSigner(ctx)
	if err != nil {
		return nil, nil, err
	}
	return s, s, nil
}

func (a *app) store(ctx context.Context) (clearsky.Store, error) {
	if a.cfg.Redis.Addr == "" {
		return store.NewMemoryStore(), nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis connection error: %w", err)
	}
	s := store.NewRedisStore(rdb, a.cfg.Redis.Prefix)
	a.onClose(func() { _ = s.Close() })
	return s, nil
}

func (a *app) notifier() clearsky.Notifier {
	notifiers := notify.Multi{notify.NewLogNotifier(a.logger)}
	if a.cfg.NATS.URL != "" {
		n, err := notify.DialNATS(a.cfg.NATS.URL, a.cfg.NATS.SubjectPrefix, a.logger)
		if err != nil {
			a.logger.Warn("nats notifications disabled", zap.Error(err))
		} else {
			a.onClose(func() { _ = n.Close() })
			notifiers = append(notifiers, n)
		}
	}
	return notifiers
}

func (a *app) licenseConfig() (*license.Config, error) {
	cfg := &license.Config{MaxRevenueShare: a.cfg.License.MaxRevenueShare}
	if a.cfg.License.MaxMintingFee != "" {
		fee, err := evm.ParseAmount(a.cfg.License.MaxMintingFee, clearsky.NativeDecimals)
		if err != nil {
			return nil, err
		}
		cfg.MaxMintingFee = fee
	}
	return cfg, nil
}

// purchaser wires the wallet, backend, journal, licenser and notifiers
func (a *app) purchaser(ctx context.Context) (*clearsky.Purchaser, *cshttp.BackendClient, error) {
	backend, err := a.backend()
	if err != nil {
		return nil, nil, err
	}
	wallet, writer, err := a.wallet(ctx)
	if err != nil {
		return nil, nil, err
	}
	journal, err := a.store(ctx)
	if err != nil {
		return nil, nil, err
	}
	opts, err := a.purchaserOptions(journal, writer)
	if err != nil {
		return nil, nil, err
	}

	if a.token == "" {
		if s, ok := wallet.(*signer.ClientSigner); ok {
			if err := a.walletLogin(ctx, backend, s); err != nil {
				return nil, nil, fmt.Errorf("failed to log in: %w", err)
			}
		}
	}
	return clearsky.NewPurchaser(wallet, backend, opts...), backend, nil
}

// purchaserOptions configures a Purchaser for every supported chain. writer
// may be nil, which disables license minting.
func (a *app) purchaserOptions(journal clearsky.Store, writer evm.ContractWriter) ([]clearsky.Option, error) {
	chains, err := a.cfg.Chains()
	if err != nil {
		return nil, err
	}

	opts := []clearsky.Option{
		clearsky.WithStore(journal),
		clearsky.WithNotifier(a.notifier()),
		clearsky.WithLogger(a.logger),
		clearsky.WithPollInterval(a.cfg.Polling.Interval),
		clearsky.WithMaxPollAttempts(a.cfg.Polling.MaxAttempts),
		clearsky.WithChains(chains...),
	}
	if writer != nil {
		lc, err := a.licenseConfig()
		if err != nil {
			return nil, err
		}
		opts = append(opts, clearsky.WithLicenser(license.NewStoryLicenser(writer, lc)))
	}
	return opts, nil
}

// sessionBackend returns a backend client holding a session, logging in with
// the local key when no token is configured
func (a *app) sessionBackend(ctx context.Context) (*cshttp.BackendClient, error) {
	backend, err := a.backend()
	if err != nil {
		return nil, err
	}
	if a.token != "" {
		return backend, nil
	}
	if a.cfg.Wallet.PrivateKey == "" {
		return nil, errors.New("no session: run `clearsky login` and set backend.token")
	}
	s, err := a.localSigner(ctx)
	if err != nil {
		return nil, err
	}
	if err := a.walletLogin(ctx, backend, s); err != nil {
		return nil, fmt.Errorf("failed to log in: %w", err)
	}
	return backend, nil
}

// walletLogin signs the backend's login challenge and keeps the session token
func (a *app) walletLogin(ctx context.Context, backend *cshttp.BackendClient, s *signer.ClientSigner) error {
	challenge, err := backend.RequestChallenge(ctx, s.Sender())
	if err != nil {
		return err
	}
	sig, err := s.SignLogin(*challenge)
	if err != nil {
		return err
	}
	session, err := backend.LoginWithWallet(ctx, *challenge, sig)
	if err != nil {
		return err
	}
	a.token = session.Token
	return nil
}

// owner is the address of the configured wallet
func (a *app) owner(ctx context.Context) (string, error) {
	w, _, err := a.wallet(ctx)
	if err != nil {
		return "", err
	}
	return w.Address(ctx)
}
