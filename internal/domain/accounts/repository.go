package accounts

import "context"

// Repository devuelve storage.ErrNotFound / storage.ConflictError.
type Repository interface {
	Create(ctx context.Context, a Account) error
	Update(ctx context.Context, a Account) error
	GetByID(ctx context.Context, id string) (Account, error)
	GetByVCN(ctx context.Context, vcn string) (Account, error)
	GetByEmail(ctx context.Context, email string) (Account, error)
	ListByStatus(ctx context.Context, status Status) ([]Account, error)
}
