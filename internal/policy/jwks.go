package policy

import (
	"container/heap"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"
)

// JWKSHTTPClient fetches a JSON Web Key Set; the default implementation
// issues a plain GET, matching the teacher's jwksHttpClientImpl.
type JWKSHTTPClient interface {
	FetchJWKS(ctx context.Context, url string) (jose.JSONWebKeySet, error)
}

type httpJWKSClient struct{ client *http.Client }

// NewJWKSHTTPClient returns the default HTTP-backed fetcher.
func NewJWKSHTTPClient() JWKSHTTPClient {
	return &httpJWKSClient{client: &http.Client{Timeout: 10 * time.Second}}
}

func (c *httpJWKSClient) FetchJWKS(ctx context.Context, url string) (jose.JSONWebKeySet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return jose.JSONWebKeySet{}, fmt.Errorf("build jwks request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return jose.JSONWebKeySet{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return jose.JSONWebKeySet{}, fmt.Errorf("jwks fetch from %s: unexpected status %d", url, resp.StatusCode)
	}
	var ks jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&ks); err != nil {
		return jose.JSONWebKeySet{}, fmt.Errorf("decode jwks from %s: %w", url, err)
	}
	return ks, nil
}

// fetchAt is one scheduled (re)fetch of a JWKS URL, ordered into a
// min-heap by time.
type fetchAt struct {
	at          time.Time
	url         string
	ttl         time.Duration
	retryAttempt int
}

type fetchSchedule []fetchAt

func (s fetchSchedule) Len() int            { return len(s) }
func (s fetchSchedule) Less(i, j int) bool  { return s[i].at.Before(s[j].at) }
func (s fetchSchedule) Swap(i, j int)       { s[i], s[j] = s[j], s[i] }
func (s *fetchSchedule) Push(x any)         { *s = append(*s, x.(fetchAt)) }
func (s *fetchSchedule) Pop() any {
	old := *s
	n := len(old)
	x := old[n-1]
	*s = old[:n-1]
	return x
}
func (s fetchSchedule) Peek() *fetchAt {
	if len(s) == 0 {
		return nil
	}
	return &s[0]
}

// JWKSStore holds the most recently fetched key set per JWKS URL and
// keeps it fresh via a heap-scheduled background refresh, grounded on
// the teacher's internal/kgateway/jwks.JwksFetcher (container/heap
// scheduling, retry backoff, subscriber fanout) generalized from a
// config-reload-driven cache to the runtime JWT policy's verification
// key source.
type JWKSStore struct {
	mu       sync.RWMutex
	client   JWKSHTTPClient
	keysets  map[string]jose.JSONWebKeySet
	schedule fetchSchedule
}

// NewJWKSStore constructs an empty store backed by client.
func NewJWKSStore(client JWKSHTTPClient) *JWKSStore {
	if client == nil {
		client = NewJWKSHTTPClient()
	}
	s := &JWKSStore{client: client, keysets: map[string]jose.JSONWebKeySet{}}
	heap.Init(&s.schedule)
	return s
}

// Watch registers url for periodic refetch every ttl and blocks an
// immediate fetch in; call in a goroutine.
func (s *JWKSStore) Watch(ctx context.Context, url string, ttl time.Duration) {
	s.mu.Lock()
	heap.Push(&s.schedule, fetchAt{at: time.Now(), url: url, ttl: ttl})
	s.mu.Unlock()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *JWKSStore) tick(ctx context.Context) {
	now := time.Now()
	for {
		s.mu.Lock()
		next := s.schedule.Peek()
		if next == nil || next.at.After(now) {
			s.mu.Unlock()
			return
		}
		fetch := heap.Pop(&s.schedule).(fetchAt)
		s.mu.Unlock()

		ks, err := s.client.FetchJWKS(ctx, fetch.url)
		if err != nil {
			logger.Error("jwks fetch failed", "url", fetch.url, "error", err)
			s.mu.Lock()
			if fetch.retryAttempt < 5 {
				heap.Push(&s.schedule, fetchAt{at: now.Add(time.Duration(5*(fetch.retryAttempt+1)) * time.Second), url: fetch.url, ttl: fetch.ttl, retryAttempt: fetch.retryAttempt + 1})
			} else {
				heap.Push(&s.schedule, fetchAt{at: now.Add(fetch.ttl), url: fetch.url, ttl: fetch.ttl})
			}
			s.mu.Unlock()
			continue
		}

		s.mu.Lock()
		s.keysets[fetch.url] = ks
		heap.Push(&s.schedule, fetchAt{at: now.Add(fetch.ttl), url: fetch.url, ttl: fetch.ttl})
		s.mu.Unlock()
	}
}

// Keys returns the currently cached key set for url.
func (s *JWKSStore) Keys(url string) (jose.JSONWebKeySet, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ks, ok := s.keysets[url]
	return ks, ok
}

// Set installs a static key set directly, bypassing fetch — used for
// local (non-remote) JWKS configuration.
func (s *JWKSStore) Set(url string, ks jose.JSONWebKeySet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keysets[url] = ks
}
