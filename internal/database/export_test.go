package database

import "context"

// DBPool is an alias to let tests provide their own pool implementation.
type DBPool = dbPool

// WithNewPool overrides the pool constructor, for tests.
func WithNewPool(newPool func(ctx context.Context, dsn string) (dbPool, error)) Options {
	return func(o *options) {
		o.newPool = newPool
	}
}
