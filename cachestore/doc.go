// Short-lived cache of federated platform lookups (profiles, posts), stored as
// JSON strings under a (name, key) pair.
//
// Subjects a platform reports as unknown are cached too, so a burst of reports
// against a bogus vanity costs one upstream call per TTL. Backed by redis
// (shared between instances) or an in-process LRU.
package cachestore
