package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrNoChainHead indicates no previous event exists for this chain.
var ErrNoChainHead = errors.New("no chain head found")

// ComputeEventHash hashes the canonical JSON form of evt with
// chain.event_hash blanked.
func ComputeEventHash(evt *Event) (string, error) {
	cp := *evt
	cp.Chain.EventHash = ""

	canonical, err := json.Marshal(cp)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}

	hash := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(hash[:]), nil
}

// SetChainHashes links evt to prevHash and fills in its own hash.
func (e *Event) SetChainHashes(prevHash string) error {
	e.Chain.PrevEventHash = prevHash
	hash, err := ComputeEventHash(e)
	if err != nil {
		return err
	}
	e.Chain.EventHash = hash
	return nil
}

// Verify recomputes the hash of every event and checks each links to
// the one before it. Events must all belong to one chain, oldest first.
func Verify(events []Event) error {
	prev := ""
	for i := range events {
		evt := &events[i]
		if evt.Chain.PrevEventHash != prev {
			return fmt.Errorf("event %s: prev hash %q, want %q", evt.EventID, evt.Chain.PrevEventHash, prev)
		}
		want, err := ComputeEventHash(evt)
		if err != nil {
			return err
		}
		if evt.Chain.EventHash != want {
			return fmt.Errorf("event %s: hash mismatch", evt.EventID)
		}
		prev = evt.Chain.EventHash
	}
	return nil
}

// ChainTracker manages chain heads. With a directory it persists them to
// chain-heads.json; without one it keeps them in memory.
type ChainTracker struct {
	mu       sync.RWMutex
	heads    map[string]string // chainKey -> eventHash
	filePath string
}

// NewChainTracker loads existing heads from dir, if any.
func NewChainTracker(dir string) (*ChainTracker, error) {
	ct := &ChainTracker{heads: make(map[string]string)}
	if dir == "" {
		return ct, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create chain tracker dir: %w", err)
	}
	ct.filePath = filepath.Join(dir, "chain-heads.json")

	if err := ct.load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load chain heads: %w", err)
	}
	return ct, nil
}

// GetHead returns the last event hash for a chain.
func (ct *ChainTracker) GetHead(chainKey string) (string, error) {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	hash, ok := ct.heads[chainKey]
	if !ok || hash == "" {
		return "", ErrNoChainHead
	}
	return hash, nil
}

// SetHead updates the chain head after a successful emission.
func (ct *ChainTracker) SetHead(chainKey, eventHash string) error {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	ct.heads[chainKey] = eventHash
	if ct.filePath == "" {
		return nil
	}
	return ct.save()
}

func (ct *ChainTracker) load() error {
	data, err := os.ReadFile(ct.filePath)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, &ct.heads)
}

// save writes heads via a temp file and rename.
func (ct *ChainTracker) save() error {
	data, err := json.MarshalIndent(ct.heads, "", "  ")
	if err != nil {
		return err
	}

	tmpPath := ct.filePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmpPath, ct.filePath)
}
