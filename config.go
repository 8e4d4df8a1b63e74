package digs

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/epcced/digs/confparse"
)

// Configuration is the grid-wide configuration loaded from digs.conf. It
// carries the caching (Redis) and catalogue backend (Cassandra) connection
// parameters the way the teacher's Configuration struct does, widened with
// the reconciliation, placement and transport parameters spec.md names.
type Configuration struct {
	// GridPath is the install directory holding the node table, status
	// lists, preference file and per-session temp files.
	GridPath string

	// MinCopies is the grid-wide default replcount used when a file's
	// per-LFN override is 0.
	MinCopies int
	// CycleInterval is how often the control thread runs a reconciliation
	// tick. Defaults to 60s per spec.md §4.7.
	CycleInterval time.Duration
	// InboxTTL is how long a staged-but-never-integrated inbox file is kept
	// before being swept. Defaults to 3600s per spec.md §4.7/§8.
	InboxTTL time.Duration
	// MaxConcurrentPings bounds the errgroup fan-out used to ping nodes
	// during reconciliation step 1.
	MaxConcurrentPings int

	// LocationWeight and SpaceWeight tune the placement scoring formula
	// (spec.md §4.2); defaults of 1 and 1 give the documented rank-dominant
	// behavior.
	LocationWeight float64
	SpaceWeight    float64

	// AdminList is the set of identities treated as administrators for
	// lock/unlock/replcount permission checks, consumed by the CEL policy
	// evaluator in package control.
	AdminList []string

	RedisAddress  string
	RedisPassword string
	RedisDB       int

	CassandraHosts    []string
	CassandraKeyspace string

	S3Endpoint  string
	S3Region    string
	S3AccessKey string
	S3SecretKey string

	// JWTIssuer is the expected issuer for bearer credentials accepted by
	// the command transport's Authenticator.
	JWTIssuer string

	// TransportListenAddress is the address the command transport server
	// binds for authenticated CLI connections.
	TransportListenAddress string
	// StatusListenAddress is the address the read-only status HTTP API binds.
	StatusListenAddress string
}

// DefaultConfiguration returns the documented defaults (spec.md §4.5, §4.7).
func DefaultConfiguration() Configuration {
	return Configuration{
		GridPath:               tempDirDefault(),
		MinCopies:              2,
		CycleInterval:          60 * time.Second,
		InboxTTL:               3600 * time.Second,
		MaxConcurrentPings:     16,
		LocationWeight:         1,
		SpaceWeight:            1,
		CassandraKeyspace:      "digs",
		TransportListenAddress: ":9021",
		StatusListenAddress:    ":9022",
	}
}

// tempDirDefault implements the QCDGRID_TMP environment fallback described
// in spec.md §6 ("default /tmp").
func tempDirDefault() string {
	if d := os.Getenv("QCDGRID_TMP"); d != "" {
		return d
	}
	return os.TempDir()
}

// LoadConfiguration reads digs.conf's single key=value record and overlays
// it onto DefaultConfiguration.
func LoadConfiguration(filename string) (Configuration, error) {
	f, err := os.Open(filename)
	if err != nil {
		return Configuration{}, err
	}
	defer f.Close()

	records, err := confparse.ParseRecords(f, "")
	if err != nil {
		return Configuration{}, err
	}
	cfg := DefaultConfiguration()
	if len(records) == 0 {
		return cfg, nil
	}
	r := records[0]

	if v, ok := r.Get("grid_path"); ok {
		cfg.GridPath = v
	}
	cfg.MinCopies = r.GetInt("min_copies", cfg.MinCopies)
	if v, ok := r.Get("cycle_interval"); ok {
		if d, err := time.ParseDuration(v + "s"); err == nil {
			cfg.CycleInterval = d
		}
	}
	if v, ok := r.Get("inbox_ttl"); ok {
		if d, err := time.ParseDuration(v + "s"); err == nil {
			cfg.InboxTTL = d
		}
	}
	cfg.MaxConcurrentPings = r.GetInt("max_concurrent_pings", cfg.MaxConcurrentPings)
	cfg.LocationWeight = r.GetFloat("location_weight", cfg.LocationWeight)
	cfg.SpaceWeight = r.GetFloat("space_weight", cfg.SpaceWeight)

	if v, ok := r.Get("admin_list"); ok {
		cfg.AdminList = splitNonEmpty(v, ",")
	}

	if v, ok := r.Get("redis_address"); ok {
		cfg.RedisAddress = v
	}
	if v, ok := r.Get("redis_password"); ok {
		cfg.RedisPassword = v
	}
	cfg.RedisDB = r.GetInt("redis_db", cfg.RedisDB)

	if v, ok := r.Get("cassandra_hosts"); ok {
		cfg.CassandraHosts = splitNonEmpty(v, ",")
	}
	if v, ok := r.Get("cassandra_keyspace"); ok {
		cfg.CassandraKeyspace = v
	}

	if v, ok := r.Get("s3_endpoint"); ok {
		cfg.S3Endpoint = v
	}
	if v, ok := r.Get("s3_region"); ok {
		cfg.S3Region = v
	}
	if v, ok := r.Get("s3_access_key"); ok {
		cfg.S3AccessKey = v
	}
	if v, ok := r.Get("s3_secret_key"); ok {
		cfg.S3SecretKey = v
	}

	if v, ok := r.Get("jwt_issuer"); ok {
		cfg.JWTIssuer = v
	}
	if v, ok := r.Get("transport_listen_address"); ok {
		cfg.TransportListenAddress = v
	}
	if v, ok := r.Get("status_listen_address"); ok {
		cfg.StatusListenAddress = v
	}

	if cfg.GridPath == "" {
		return cfg, fmt.Errorf("digs: grid_path must be set in %s", filename)
	}
	return cfg, nil
}

func splitNonEmpty(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
