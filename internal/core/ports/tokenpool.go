package ports

import (
	"time"

	"github.com/thushan/olla/internal/core/domain"
)

// TokenPool groups tokens into named pools and serves quota-aware
// selection, cooldown application and debounced persistence (§4.A).
type TokenPool interface {
	Add(pool string, token *domain.Token)
	Remove(value string)
	Select(pool string, exclude map[string]struct{}) (*domain.Token, bool)
	ApplyCooldown(value string, status domain.TokenStatus, until time.Time)
	RecordFailure(value string, status int)
	RecordAuthFailure(value string)
	Consume(value string, effort domain.Effort)
	List(pool string) []*domain.Token
	PoolOf(value string) (string, bool)
	RefreshCooling() int
	TickErrorCooldowns()
}

// Storage is the persistence collaborator's contract (§9 "Polymorphism
// over pools"): a capability set with a local-file implementation in
// internal/adapter/storage; Redis and SQL variants are named as
// follow-on implementations but not built here (see DESIGN.md).
type Storage interface {
	LoadJSON(name string, out interface{}) error
	SaveJSON(name string, value interface{}) error
	Close() error
}
