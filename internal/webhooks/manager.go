package webhooks

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// AddressSetKey holds the monitored addresses in Redis.
const AddressSetKey = "webhook:addresses"

var (
	ErrInvalidAddress = errors.New("invalid address")
	ErrNoAddresses    = errors.New("no addresses given")
	ErrProviderSync   = errors.New("webhook provider sync failed")
)

// AddressSet is the local record of monitored addresses.
type AddressSet interface {
	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
}

// Provider edits the address list of the webhook that feeds /webhook.
type Provider interface {
	UpdateAddresses(ctx context.Context, add, remove []string) error
	Addresses(ctx context.Context) ([]string, error)
}

type AddResult struct {
	Added            []string `json:"success"`
	AlreadyMonitored []string `json:"already_monitored"`
}

type SyncResult struct {
	Added   int `json:"added"`
	Removed int `json:"removed"`
	Synced  int `json:"synced"`
}

// Manager keeps the local address set and the provider's webhook in step.
// Adds are recorded locally first and rolled back if the provider rejects
// them. Removals reach the provider before the local set.
type Manager struct {
	set      AddressSet
	provider Provider
	logger   *zap.Logger
}

func NewManager(set AddressSet, provider Provider, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{set: set, provider: provider, logger: logger}
}

// NormalizeAddresses lowercases and dedupes addresses. Any entry that is not
// a hex address fails the whole batch.
func NormalizeAddresses(addresses []string) ([]string, error) {
	if len(addresses) == 0 {
		return nil, ErrNoAddresses
	}
	seen := make(map[string]struct{}, len(addresses))
	out := make([]string, 0, len(addresses))
	var invalid []string
	for _, a := range addresses {
		a = strings.TrimSpace(a)
		if !common.IsHexAddress(a) {
			invalid = append(invalid, a)
			continue
		}
		a = strings.ToLower(a)
		if _, dup := seen[a]; dup {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	if len(invalid) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAddress, strings.Join(invalid, ", "))
	}
	return out, nil
}

func (m *Manager) Add(ctx context.Context, addresses []string) (AddResult, error) {
	addrs, err := NormalizeAddresses(addresses)
	if err != nil {
		return AddResult{}, err
	}
	existing, err := m.set.SMembers(ctx, AddressSetKey)
	if err != nil {
		return AddResult{}, fmt.Errorf("read monitored addresses: %w", err)
	}
	known := toSet(existing)

	var res AddResult
	for _, a := range addrs {
		if _, ok := known[a]; ok {
			res.AlreadyMonitored = append(res.AlreadyMonitored, a)
		} else {
			res.Added = append(res.Added, a)
		}
	}
	if err := m.set.SAdd(ctx, AddressSetKey, res.Added...); err != nil {
		return AddResult{}, fmt.Errorf("record addresses: %w", err)
	}

	if err := m.provider.UpdateAddresses(ctx, addrs, nil); err != nil {
		m.logger.Error("webhooks.add_sync_failed", zap.Strings("addresses", addrs), zap.Error(err))
		// Only what this call recorded is rolled back.
		if rerr := m.set.SRem(ctx, AddressSetKey, res.Added...); rerr != nil {
			m.logger.Error("webhooks.rollback_failed", zap.Strings("addresses", res.Added), zap.Error(rerr))
		}
		return AddResult{}, fmt.Errorf("%w: %w", ErrProviderSync, err)
	}

	m.logger.Info("webhooks.addresses_added",
		zap.Int("added", len(res.Added)),
		zap.Int("already_monitored", len(res.AlreadyMonitored)))
	return res, nil
}

// Remove stops monitoring addresses and returns the ones removed.
func (m *Manager) Remove(ctx context.Context, addresses []string) ([]string, error) {
	addrs, err := NormalizeAddresses(addresses)
	if err != nil {
		return nil, err
	}
	if err := m.provider.UpdateAddresses(ctx, nil, addrs); err != nil {
		m.logger.Error("webhooks.remove_sync_failed", zap.Strings("addresses", addrs), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrProviderSync, err)
	}
	if err := m.set.SRem(ctx, AddressSetKey, addrs...); err != nil {
		// The provider has dropped them; a Sync before the local entries
		// are cleared re-adds them.
		return nil, fmt.Errorf("forget addresses: %w", err)
	}
	m.logger.Info("webhooks.addresses_removed", zap.Int("removed", len(addrs)))
	return addrs, nil
}

// List returns the monitored addresses, sorted.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	addrs, err := m.set.SMembers(ctx, AddressSetKey)
	if err != nil {
		return nil, fmt.Errorf("read monitored addresses: %w", err)
	}
	sort.Strings(addrs)
	return addrs, nil
}

// Sync pushes the local set to the provider: missing addresses are added and
// stale ones removed. An empty local set is left alone rather than clearing
// the provider.
func (m *Manager) Sync(ctx context.Context) (SyncResult, error) {
	local, err := m.set.SMembers(ctx, AddressSetKey)
	if err != nil {
		return SyncResult{}, fmt.Errorf("read monitored addresses: %w", err)
	}
	if len(local) == 0 {
		m.logger.Info("webhooks.sync_skipped_empty")
		return SyncResult{}, nil
	}
	remote, err := m.provider.Addresses(ctx)
	if err != nil {
		return SyncResult{}, fmt.Errorf("%w: %w", ErrProviderSync, err)
	}

	toAdd := difference(local, toSet(remote))
	toRemove := difference(remote, toSet(local))
	if len(toAdd) == 0 && len(toRemove) == 0 {
		return SyncResult{}, nil
	}
	if err := m.provider.UpdateAddresses(ctx, toAdd, toRemove); err != nil {
		return SyncResult{}, fmt.Errorf("%w: %w", ErrProviderSync, err)
	}

	res := SyncResult{Added: len(toAdd), Removed: len(toRemove), Synced: len(toAdd) + len(toRemove)}
	m.logger.Info("webhooks.synced", zap.Int("added", res.Added), zap.Int("removed", res.Removed))
	return res, nil
}

func toSet(values []string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		out[strings.ToLower(v)] = struct{}{}
	}
	return out
}

// difference returns the values of a not in b, sorted.
func difference(a []string, b map[string]struct{}) []string {
	var out []string
	for _, v := range a {
		if _, ok := b[strings.ToLower(v)]; !ok {
			out = append(out, strings.ToLower(v))
		}
	}
	sort.Strings(out)
	return out
}
