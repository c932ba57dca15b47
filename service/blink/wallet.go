package blink

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

const walletsQuery = `query Me {
  me {
    defaultAccount {
      wallets {
        id
        walletCurrency
        balance
      }
    }
  }
}`

// Wallet is one wallet of the authenticated account.
type Wallet struct {
	ID       string `json:"id"`
	Currency string `json:"walletCurrency"`
	Balance  int64  `json:"balance"`
}

type walletsData struct {
	Me struct {
		DefaultAccount struct {
			Wallets []Wallet `json:"wallets"`
		} `json:"defaultAccount"`
	} `json:"me"`
}

// Wallets lists the wallets of the account's default account.
func (c *Client) Wallets(ctx context.Context) ([]Wallet, error) {
	var data walletsData
	if err := c.Do(ctx, "Me", walletsQuery, nil, &data); err != nil {
		return nil, err
	}
	return data.Me.DefaultAccount.Wallets, nil
}

// WalletID returns the id of the wallet in the configured currency, resolving it on first use.
func (c *Client) WalletID(ctx context.Context) (string, error) {
	return c.wallets.Resolve(ctx)
}

// WalletResolver finds the account wallet for one currency and caches its id for
// the lifetime of the resolver. Concurrent first callers share a single lookup and
// a failed lookup is not cached.
type WalletResolver struct {
	client   *Client
	currency string

	group singleflight.Group
	mu    sync.RWMutex
	id    string
}

// Resolve returns the cached wallet id or looks it up.
func (r *WalletResolver) Resolve(ctx context.Context) (string, error) {
	r.mu.RLock()
	id := r.id
	r.mu.RUnlock()
	if id != "" {
		return id, nil
	}

	// The shared lookup must not die with whichever caller happened to start it.
	lookupCtx := context.WithoutCancel(ctx)
	ch := r.group.DoChan(r.currency, func() (any, error) {
		return r.lookup(lookupCtx)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (r *WalletResolver) lookup(ctx context.Context) (string, error) {
	r.mu.RLock()
	id := r.id
	r.mu.RUnlock()
	if id != "" {
		return id, nil
	}

	wallets, err := r.client.Wallets(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list wallets: %w", err)
	}

	for _, w := range wallets {
		if strings.EqualFold(w.Currency, r.currency) && w.ID != "" {
			r.mu.Lock()
			r.id = w.ID
			r.mu.Unlock()
			r.client.logger.InfoContext(ctx, "resolved wallet", "wallet_id", w.ID, "currency", r.currency)
			return w.ID, nil
		}
	}

	return "", fmt.Errorf("%w: no %s wallet on account", ErrWalletNotFound, r.currency)
}
