package main

import (
	"github.com/epcced/digs"
	"github.com/epcced/digs/backend/globus"
	"github.com/epcced/digs/backend/omero"
	"github.com/epcced/digs/backend/srm"
)

// globusConfig returns the plain-copy configuration (no erasure coding);
// a grid wanting striping across multiple disks sets this from
// per-node Disk counts instead, left as a future configuration knob
// since spec.md's node table does not currently carry a shard count.
func globusConfig() globus.Config {
	return globus.Config{}
}

func srmConfig(cfg digs.Configuration) srm.Config {
	return srm.Config{
		Endpoint:  cfg.S3Endpoint,
		Region:    cfg.S3Region,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Bucket:    "digs",
	}
}

func omeroConfig(cfg digs.Configuration) omero.Config {
	return omero.Config{
		Hosts:    cfg.CassandraHosts,
		Keyspace: cfg.CassandraKeyspace,
	}
}
