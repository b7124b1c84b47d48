package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// AWSRanges maintains the published AWS IP ranges for the regions the Rachio
// cloud sends webhooks from. The prefix list is swapped atomically so lookups
// never block on a refresh.
type AWSRanges struct {
	url    string
	region string // region prefix, e.g. "us-"
	http   *http.Client

	prefixes atomic.Pointer[[]netip.Prefix]
}

// NewAWSRanges creates an empty range set. Until the first successful
// refresh, Contains reports false for every address.
func NewAWSRanges(url, regionPrefix string, timeout time.Duration) *AWSRanges {
	r := &AWSRanges{
		url:    url,
		region: regionPrefix,
		http:   &http.Client{Timeout: timeout},
	}
	empty := []netip.Prefix{}
	r.prefixes.Store(&empty)
	return r
}

type awsRangesDoc struct {
	Prefixes []struct {
		IPPrefix string `json:"ip_prefix"`
		Region   string `json:"region"`
	} `json:"prefixes"`
	IPv6Prefixes []struct {
		IPv6Prefix string `json:"ipv6_prefix"`
		Region     string `json:"region"`
	} `json:"ipv6_prefixes"`
}

// Refresh fetches the published ranges, retrying transient failures with
// exponential backoff, and swaps in the filtered prefix list.
func (r *AWSRanges) Refresh(ctx context.Context) error {
	var doc awsRangesDoc
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := r.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("fetching aws ip ranges: http %d", resp.StatusCode)
		}
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(body, &doc); err != nil {
			return backoff.Permanent(fmt.Errorf("decoding aws ip ranges: %w", err))
		}
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 4), ctx)); err != nil {
		return err
	}

	var prefixes []netip.Prefix
	for _, p := range doc.Prefixes {
		if !matchesRegion(p.Region, r.region) {
			continue
		}
		if pfx, err := netip.ParsePrefix(p.IPPrefix); err == nil {
			prefixes = append(prefixes, pfx)
		}
	}
	for _, p := range doc.IPv6Prefixes {
		if !matchesRegion(p.Region, r.region) {
			continue
		}
		if pfx, err := netip.ParsePrefix(p.IPv6Prefix); err == nil {
			prefixes = append(prefixes, pfx)
		}
	}

	r.prefixes.Store(&prefixes)
	log.Printf("webhook: loaded %d aws ip ranges for region prefix %q", len(prefixes), r.region)
	return nil
}

func matchesRegion(region, prefix string) bool {
	if prefix == "" {
		return true
	}
	return len(region) >= len(prefix) && region[:len(prefix)] == prefix
}

// RunRefresher refreshes the range set periodically until the context is
// cancelled. A failed refresh keeps the previous list.
func (r *AWSRanges) RunRefresher(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Refresh(ctx); err != nil {
				log.Printf("webhook: refreshing aws ip ranges: %v", err)
			}
		}
	}
}

// Contains reports whether the address falls into any loaded range.
func (r *AWSRanges) Contains(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, p := range *r.prefixes.Load() {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// Empty reports whether no ranges have been loaded yet.
func (r *AWSRanges) Empty() bool {
	return len(*r.prefixes.Load()) == 0
}
