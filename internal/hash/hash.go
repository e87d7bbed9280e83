package hash

import (
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// Vault hashes and verifies passwords. It is CPU bound and slow on
// purpose; never call it while holding a lock or a row-level transaction.
type Vault struct {
	Cost int

	dummyOnce sync.Once
	dummy     []byte
}

func NewVault(cost int) (*Vault, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d out of range [%d, %d]", cost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	v := &Vault{Cost: cost}
	v.dummyHash()
	return v, nil
}

// dummyHash is compared against when the user does not exist. It uses the
// vault's cost so both branches of a login spend the same bcrypt time.
func (v *Vault) dummyHash() []byte {
	v.dummyOnce.Do(func() {
		cost := v.Cost
		if cost == 0 {
			cost = bcrypt.DefaultCost
		}
		v.dummy, _ = bcrypt.GenerateFromPassword([]byte("claims-auth-timing-equalizer"), cost)
	})
	return v.dummy
}

func (v *Vault) HashPassword(password string) (string, error) {
	hashbytes, err := bcrypt.GenerateFromPassword([]byte(password), v.Cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}

	return string(hashbytes), nil
}

func (v *Vault) CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// Burn performs a throwaway comparison for unknown accounts.
func (v *Vault) Burn(password string) {
	_ = bcrypt.CompareHashAndPassword(v.dummyHash(), []byte(password))
}
