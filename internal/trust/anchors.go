package trust

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
)

// AnchorPolicy describes how far a trust-anchor entry extends.
type AnchorPolicy struct {
	// Policy is "strict" (entry and its subdomains) or "exact" (entry only).
	Policy string `json:"policy"`
}

// AnchorRepository holds the allow list of official domains the service is
// permitted to vouch for. Entries are keyed by domain; a lookup walks parent
// domains so auth.podatki.gov.pl matches an anchor for gov.pl.
type AnchorRepository struct {
	mu      sync.RWMutex
	path    string
	anchors map[string]AnchorPolicy
}

// NewAnchorRepository builds a repository from an explicit anchor set.
func NewAnchorRepository(anchors map[string]AnchorPolicy) *AnchorRepository {
	norm := make(map[string]AnchorPolicy, len(anchors))
	for domain, policy := range anchors {
		norm[strings.ToLower(domain)] = policy
	}
	return &AnchorRepository{anchors: norm}
}

// LoadAnchorRepository reads the anchor set from a JSON file of the form
// {"gov.pl": {"policy": "strict"}, ...}.
func LoadAnchorRepository(path string) (*AnchorRepository, error) {
	repo := &AnchorRepository{path: path, anchors: map[string]AnchorPolicy{}}
	if err := repo.Reload(); err != nil {
		return nil, err
	}
	return repo, nil
}

// Reload re-reads the anchor file, replacing the in-memory set atomically.
func (r *AnchorRepository) Reload() error {
	if r.path == "" {
		return nil
	}
	raw, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("read trust anchors: %w", err)
	}
	anchors := map[string]AnchorPolicy{}
	if err := json.Unmarshal(raw, &anchors); err != nil {
		return fmt.Errorf("parse trust anchors %s: %w", r.path, err)
	}
	norm := make(map[string]AnchorPolicy, len(anchors))
	for domain, policy := range anchors {
		norm[strings.ToLower(domain)] = policy
	}
	r.mu.Lock()
	r.anchors = norm
	r.mu.Unlock()
	return nil
}

// IsTrusted reports whether rawURL's host is covered by an anchor. An exact
// entry always matches; a parent entry matches unless its policy is "exact".
func (r *AnchorRepository) IsTrusted(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.anchors[host]; ok {
		return true
	}
	parts := strings.Split(host, ".")
	for i := 1; i < len(parts)-1; i++ {
		parent := strings.Join(parts[i:], ".")
		if policy, ok := r.anchors[parent]; ok {
			return policy.Policy != "exact"
		}
	}
	return false
}

// Len returns the number of loaded anchors.
func (r *AnchorRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.anchors)
}
