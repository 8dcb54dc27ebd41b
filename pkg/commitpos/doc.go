// Package commitpos produces and locates the counter that publishes a
// cluster's commit position in a counters registry.
//
// A commit-position counter is a registry record with type id 203, a 4 byte
// little-endian key holding the cluster id and the label
// "cluster-commit-pos: clusterId=<id>". Any process that can read the
// registry can find the counter for a cluster with FindCounterID without
// talking to the process that allocated it.
package commitpos
