// Package cassandracat is the production catalog.Catalog backend: the
// locations and attributes relations live in Cassandra, with GetAttribute
// fronted by a Redis write-through cache so the hot path of a
// reconciliation tick does not round-trip to Cassandra for every
// attribute read. GetLocations always reads Cassandra. Grounded on the teacher's cassandra/registry.go (session
// management, prepared statement style) and redis package (write-through
// cache, connection setup).
package cassandracat

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/redis/go-redis/v9"

	"github.com/epcced/digs"
	"github.com/epcced/digs/catalog"
)

// cacheTTL bounds how long a cached attribute value may go stale relative
// to Cassandra; a SetAttribute always overwrites the cache entry for the
// key it wrote, so this only bounds staleness from a write made by a
// different node.
const cacheTTL = 5 * time.Minute

// Catalog is the Cassandra+Redis catalog.Catalog implementation.
type Catalog struct {
	session *gocql.Session
	rdb     *redis.Client
	keyspace string
}

// Config bundles the connection parameters pulled from
// digs.Configuration.
type Config struct {
	CassandraHosts   []string
	CassandraKeyspace string
	RedisAddress     string
	RedisPassword    string
	RedisDB          int
}

// Connect opens a gocql session and a redis client, grounded on the
// teacher's cassandra connection bootstrap (consistency level, timeout)
// and redis connection setup.
func Connect(cfg Config) (*Catalog, error) {
	cluster := gocql.NewCluster(cfg.CassandraHosts...)
	cluster.Keyspace = cfg.CassandraKeyspace
	cluster.Consistency = gocql.Quorum
	cluster.Timeout = 10 * time.Second
	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("cassandracat: connect: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddress,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	return &Catalog{session: session, rdb: rdb, keyspace: cfg.CassandraKeyspace}, nil
}

// Close releases the Cassandra session and Redis client.
func (c *Catalog) Close() error {
	c.session.Close()
	return c.rdb.Close()
}

func locationsCacheKey(lfn string) string   { return "digs:loc:" + lfn }
func attributeCacheKey(lfn, key string) string { return "digs:attr:" + lfn + ":" + key }

func (c *Catalog) GetLocations(ctx context.Context, lfn string) ([]string, error) {
	var pfns []string
	iter := c.session.Query(
		`SELECT pfn FROM locations WHERE lfn = ?`, lfn,
	).WithContext(ctx).Iter()
	var pfn string
	for iter.Scan(&pfn) {
		pfns = append(pfns, pfn)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("cassandracat: GetLocations(%s): %w", lfn, digs.NewError(digs.ClassifyBackendError(err), lfn, err))
	}
	return pfns, nil
}

func (c *Catalog) AddLocation(ctx context.Context, lfn, pfn string) error {
	if err := digs.ValidateLFN(lfn); err != nil {
		return err
	}
	err := c.session.Query(
		`INSERT INTO locations (lfn, pfn) VALUES (?, ?)`, lfn, pfn,
	).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("cassandracat: AddLocation(%s,%s): %w", lfn, pfn, digs.NewError(digs.ClassifyBackendError(err), lfn, err))
	}
	c.rdb.Del(ctx, locationsCacheKey(lfn))
	return nil
}

func (c *Catalog) RemoveLocation(ctx context.Context, lfn, pfn string) error {
	if err := c.session.Query(
		`DELETE FROM locations WHERE lfn = ? AND pfn = ?`, lfn, pfn,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("cassandracat: RemoveLocation(%s,%s): %w", lfn, pfn, digs.NewError(digs.ClassifyBackendError(err), lfn, err))
	}
	c.rdb.Del(ctx, locationsCacheKey(lfn))

	remaining, err := c.GetLocations(ctx, lfn)
	if err != nil {
		return err
	}
	if len(remaining) == 0 {
		keys := c.session.Query(`SELECT key FROM attributes WHERE lfn = ?`, lfn).WithContext(ctx).Iter()
		var key string
		for keys.Scan(&key) {
			c.rdb.Del(ctx, attributeCacheKey(lfn, key))
		}
		_ = keys.Close()
		if err := c.session.Query(
			`DELETE FROM attributes WHERE lfn = ?`, lfn,
		).WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("cassandracat: drop attributes for %s: %w", lfn, digs.NewError(digs.ClassifyBackendError(err), lfn, err))
		}
	}
	return nil
}

func (c *Catalog) GetAttribute(ctx context.Context, lfn, key string) (string, error) {
	cacheKey := attributeCacheKey(lfn, key)
	if v, err := c.rdb.Get(ctx, cacheKey).Result(); err == nil {
		if v == "" {
			return digs.NullAttribute, nil
		}
		return v, nil
	}

	var value string
	err := c.session.Query(
		`SELECT value FROM attributes WHERE lfn = ? AND key = ?`, lfn, key,
	).WithContext(ctx).Scan(&value)
	if err == gocql.ErrNotFound {
		c.rdb.Set(ctx, cacheKey, digs.NullAttribute, cacheTTL)
		return digs.NullAttribute, nil
	}
	if err != nil {
		return "", fmt.Errorf("cassandracat: GetAttribute(%s,%s): %w", lfn, key, digs.NewError(digs.ClassifyBackendError(err), lfn, err))
	}
	if value == "" {
		value = digs.NullAttribute
	}
	c.rdb.Set(ctx, cacheKey, value, cacheTTL)
	return value, nil
}

func (c *Catalog) SetAttribute(ctx context.Context, lfn, key, value string) error {
	if digs.IsNullAttribute(value) {
		return fmt.Errorf("cassandracat: %q is reserved and cannot be stored as an attribute value", digs.NullAttribute)
	}
	if err := c.session.Query(
		`INSERT INTO attributes (lfn, key, value) VALUES (?, ?, ?)`, lfn, key, value,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("cassandracat: SetAttribute(%s,%s): %w", lfn, key, digs.NewError(digs.ClassifyBackendError(err), lfn, err))
	}
	c.rdb.Set(ctx, attributeCacheKey(lfn, key), value, cacheTTL)
	return nil
}

func (c *Catalog) ForEachFile(ctx context.Context, prefix string, visit catalog.FileVisitor) error {
	iter := c.session.Query(`SELECT DISTINCT lfn FROM locations`).WithContext(ctx).Iter()
	defer iter.Close()

	it := &catalog.Iterator{}
	var lfn string
	for iter.Scan(&lfn) {
		if !matchesPrefix(lfn, prefix) {
			continue
		}
		if err := visit(ctx, lfn, it); err != nil {
			return err
		}
		if it.Stop {
			break
		}
	}
	if err := iter.Close(); err != nil {
		return fmt.Errorf("cassandracat: ForEachFile: %w", digs.NewError(digs.ClassifyBackendError(err), prefix, err))
	}
	return nil
}

func (c *Catalog) GetAllAttributeValues(ctx context.Context, key string) (map[string]string, error) {
	out := make(map[string]string)
	iter := c.session.Query(
		`SELECT lfn, value FROM attributes WHERE key = ? ALLOW FILTERING`, key,
	).WithContext(ctx).Iter()
	var lfn, value string
	for iter.Scan(&lfn, &value) {
		out[lfn] = value
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("cassandracat: GetAllAttributeValues(%s): %w", key, digs.NewError(digs.ClassifyBackendError(err), key, err))
	}
	return out, nil
}

func matchesPrefix(lfn, prefix string) bool {
	if prefix == "" {
		return true
	}
	if lfn == prefix {
		return true
	}
	return len(lfn) > len(prefix) && lfn[:len(prefix)+1] == prefix+"/"
}
