package verifier

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"go.pilab.hu/hivegate/issuer"
)

// RemoteKeySet fetches the issuer's JWKS document over HTTP and refreshes
// it in the background, so embedded verifiers pick up key rotations without
// a restart.
type RemoteKeySet struct {
	url      string
	client   *http.Client
	interval time.Duration
	keychain *Keychain

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// RemoteOptions tune the fetcher. Zero values get sane defaults.
type RemoteOptions struct {
	// RefreshInterval is how often the key set is re-fetched. Default 5m.
	RefreshInterval time.Duration
	// HTTPClient overrides the client used for fetches. Default has a 10s
	// timeout.
	HTTPClient *http.Client
}

// NewRemoteKeySet fetches the key set once, synchronously, then starts the
// refresh loop. The initial fetch must succeed: a verifier with no keys
// would reject everything.
func NewRemoteKeySet(ctx context.Context, jwksURL string, opts RemoteOptions) (*RemoteKeySet, error) {
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = 5 * time.Minute
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}

	rks := &RemoteKeySet{
		url:      jwksURL,
		client:   opts.HTTPClient,
		interval: opts.RefreshInterval,
		done:     make(chan struct{}),
	}

	set, err := rks.fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("initial key set fetch: %w", err)
	}
	kc, err := NewKeychain(*set)
	if err != nil {
		return nil, err
	}
	rks.keychain = kc

	rks.wg.Add(1)
	go rks.refreshLoop()

	return rks, nil
}

// Keychain returns the live keychain backing this fetcher.
func (r *RemoteKeySet) Keychain() *Keychain { return r.keychain }

// Close stops the refresh loop.
func (r *RemoteKeySet) Close() {
	r.closeOnce.Do(func() { close(r.done) })
	r.wg.Wait()
}

func (r *RemoteKeySet) refreshLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			// A caller-supplied client may carry no timeout of its own;
			// the refresh context must still be bounded and non-zero.
			timeout := r.client.Timeout
			if timeout <= 0 {
				timeout = 10 * time.Second
			}
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			set, err := r.fetch(ctx)
			cancel()
			if err != nil {
				// Keep serving the last good key set.
				log.Warn().Err(err).Str("url", r.url).Msg("key set refresh failed")
				continue
			}
			if err := r.keychain.Replace(*set); err != nil {
				log.Warn().Err(err).Str("url", r.url).Msg("key set unusable")
			}
		}
	}
}

func (r *RemoteKeySet) fetch(ctx context.Context) (*issuer.JSONWebKeySet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("key set endpoint returned %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	var set issuer.JSONWebKeySet
	if err := json.Unmarshal(body, &set); err != nil {
		return nil, fmt.Errorf("decoding key set: %w", err)
	}
	return &set, nil
}
