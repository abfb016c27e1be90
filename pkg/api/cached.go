package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/censys-research/shodan-ng/pkg/cache"
	log "github.com/sirupsen/logrus"
)

// CachedClient answers Count from an on-disk cache when it can. Everything else goes straight
// to the wrapped client.
type CachedClient struct {
	Client
	scope string
	cache *cache.Manager
}

// Cached wraps c. Entries are only shared between clients with the same scope (provider and
// credentials). A nil manager disables caching.
func Cached(c Client, scope string, m *cache.Manager) *CachedClient {
	return &CachedClient{Client: c, scope: scope, cache: m}
}

type countKey struct {
	scope  string
	query  string
	facets []string
}

func (k countKey) Hash() string {
	return fmt.Sprintf("count|%s|%s|%s", k.scope, k.query, strings.Join(k.facets, ","))
}

// Count returns a cached answer if one is fresh, otherwise asks the service and caches the result.
func (c *CachedClient) Count(ctx context.Context, query string, facets []string) (*CountResult, error) {
	key := countKey{scope: c.scope, query: query, facets: facets}

	if ent, err := c.cache.Load(key); err == nil {
		var res CountResult
		if err := json.Unmarshal(ent.Bytes(), &res); err == nil {
			log.Debugf("count for %q served from cache (age %s)", query, ent.Age())
			return &res, nil
		}
	} else if !errors.Is(err, cache.ErrMiss) {
		log.Debugf("count cache for %q unusable: %v", query, err)
	}

	res, err := c.Client.Count(ctx, query, facets)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(res); err == nil {
		if err := c.cache.Save(key, data); err != nil {
			log.Warnf("failed to cache count for %q: %v", query, err)
		}
	}

	return res, nil
}
