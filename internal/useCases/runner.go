package useCases

import (
	"context"
	"fmt"
)

// Start seeds the store from config when it holds no API credentials and
// applies the stored proxy.
func (f *Facade) Start(ctx context.Context) error {
	creds, err := f.store.Credentials(ctx)
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}
	if creds.APIID == 0 && f.seed.APIID != 0 {
		creds.APIID = f.seed.APIID
		creds.APIHash = f.seed.APIHash
		if err := f.store.SetCredentials(ctx, creds); err != nil {
			return fmt.Errorf("seed credentials: %w", err)
		}
		f.log.Info("credentials seeded from config", "api_id", creds.APIID)
	}

	p, err := f.store.Proxy(ctx)
	if err != nil {
		return fmt.Errorf("load proxy: %w", err)
	}
	f.apply(p)
	return nil
}

// Run calls Start and then re-applies every proxy change seen in the store
// until ctx is done.
func (f *Facade) Run(ctx context.Context) error {
	updates, err := f.store.WatchProxy(ctx)
	if err != nil {
		return fmt.Errorf("watch proxy: %w", err)
	}
	if err := f.Start(ctx); err != nil {
		return err
	}

	f.log.Info("facade started")
	for {
		select {
		case <-ctx.Done():
			f.log.Info("facade stopped")
			return nil
		case p, ok := <-updates:
			if !ok {
				return nil
			}
			f.log.Debug("proxy changed in store", "enabled", p.Enabled, "host", p.Host)
			f.apply(p)
		}
	}
}
