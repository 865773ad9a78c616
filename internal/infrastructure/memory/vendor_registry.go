package memory

import (
	"context"
	"sync"

	domain "github.com/Zhima-Mochi/solpay-gateway/internal/domain/vendor"
)

// VendorRegistry is a slice-backed, append-only whitelist. A slice rather
// than a map keeps listing in insertion order, and duplicates are allowed.
type VendorRegistry struct {
	mu      sync.RWMutex
	vendors []domain.Vendor
}

func NewVendorRegistry() *VendorRegistry {
	return &VendorRegistry{}
}

func (r *VendorRegistry) List(ctx context.Context) []domain.Vendor {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Vendor, len(r.vendors))
	for i, v := range r.vendors {
		out[i] = v.Clone()
	}
	return out
}

func (r *VendorRegistry) Insert(ctx context.Context, v domain.Vendor) {
	_ = ctx
	clone := v.Clone()

	r.mu.Lock()
	r.vendors = append(r.vendors, clone)
	r.mu.Unlock()
}

func (r *VendorRegistry) Contains(ctx context.Context, walletID string) bool {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, v := range r.vendors {
		if v.WalletID == walletID {
			return true
		}
	}
	return false
}
