package health

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"time"
)

// checkTimeout bounds each dependency probe.
const checkTimeout = 3 * time.Second

// DB returns a checker that pings the sessions database.
func DB(db *sql.DB) Checker {
	return func(ctx context.Context) Status {
		ctx, cancel := context.WithTimeout(ctx, checkTimeout)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			return Status{Name: "database", Detail: err.Error()}
		}
		return Status{Name: "database", Healthy: true}
	}
}

// Pinger is the slice of a Redis client the checker needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Redis returns a checker that pings the session store's Redis.
func Redis(p Pinger) Checker {
	return func(ctx context.Context) Status {
		ctx, cancel := context.WithTimeout(ctx, checkTimeout)
		defer cancel()

		if err := p.Ping(ctx); err != nil {
			return Status{Name: "redis", Detail: err.Error()}
		}
		return Status{Name: "redis", Healthy: true}
	}
}

// NetworkIDer is the slice of a chain client the checker needs.
type NetworkIDer interface {
	NetworkID(ctx context.Context) (*big.Int, error)
}

// RPC returns a checker that verifies the chain provider is reachable and
// attached to the expected network.
func RPC(client NetworkIDer, wantChainID int64) Checker {
	return func(ctx context.Context) Status {
		ctx, cancel := context.WithTimeout(ctx, checkTimeout)
		defer cancel()

		got, err := client.NetworkID(ctx)
		if err != nil {
			return Status{Name: "rpc", Detail: err.Error()}
		}
		if got.Int64() != wantChainID {
			return Status{Name: "rpc", Detail: fmt.Sprintf("wrong network: got %s, want %d", got, wantChainID)}
		}
		return Status{Name: "rpc", Healthy: true}
	}
}
