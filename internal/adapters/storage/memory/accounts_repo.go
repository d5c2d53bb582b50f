package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"vet-practice-records/internal/domain/accounts"
	"vet-practice-records/internal/ports/storage"
)

type accountRepo struct {
	mu   sync.RWMutex
	byID map[string]accounts.Account
}

func NewAccountRepo() accounts.Repository {
	return &accountRepo{
		byID: make(map[string]accounts.Account),
	}
}

func (r *accountRepo) Create(ctx context.Context, a accounts.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if strings.TrimSpace(a.ID) == "" {
		return errors.New("account id required")
	}
	if _, exists := r.byID[a.ID]; exists {
		return storage.ErrConflict
	}
	if err := r.checkVCN(a); err != nil {
		return err
	}
	r.byID[a.ID] = a
	return nil
}

func (r *accountRepo) Update(ctx context.Context, a accounts.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[a.ID]; !exists {
		return storage.ErrNotFound
	}
	if err := r.checkVCN(a); err != nil {
		return err
	}
	r.byID[a.ID] = a
	return nil
}

func (r *accountRepo) GetByID(ctx context.Context, id string) (accounts.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.byID[id]
	if !ok {
		return accounts.Account{}, storage.ErrNotFound
	}
	return a, nil
}

func (r *accountRepo) GetByVCN(ctx context.Context, vcn string) (accounts.Account, error) {
	return r.find(func(a accounts.Account) bool { return a.VCN != "" && a.VCN == vcn })
}

func (r *accountRepo) GetByEmail(ctx context.Context, email string) (accounts.Account, error) {
	return r.find(func(a accounts.Account) bool { return a.Email != "" && a.Email == email })
}

func (r *accountRepo) ListByStatus(ctx context.Context, status accounts.Status) ([]accounts.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]accounts.Account, 0)
	for _, a := range r.byID {
		if a.Status == status {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *accountRepo) find(match func(accounts.Account) bool) (accounts.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, a := range r.byID {
		if match(a) {
			return a, nil
		}
	}
	return accounts.Account{}, storage.ErrNotFound
}

// checkVCN replica el índice único de postgres. Requiere el lock tomado.
func (r *accountRepo) checkVCN(a accounts.Account) error {
	if a.VCN == "" {
		return nil
	}
	for id, other := range r.byID {
		if id != a.ID && other.VCN == a.VCN {
			return &storage.ConflictError{Constraint: storage.UniqueAccountVCN}
		}
	}
	return nil
}
