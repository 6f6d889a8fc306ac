// Copyright 2026 CrewFlow Authors. All rights reserved.
// Use of this source code is governed by a MIT license that can be
// found in the LICENSE file.

/*
Package state provides keyed, versioned persistence for flow execution state.

Records are addressed by Key{FlowType, InstanceID} and carry an opaque blob
plus a monotonically increasing Version. Save is an atomic upsert guarded by
optimistic concurrency: the caller passes the version it last observed
(0 for "no record yet") and receives ErrConflict if another writer got there
first. Callers recover by reloading and retrying.

Backends:

  - MemoryStore: process-local map, used in tests and ephemeral runs
  - SQLStore:    GORM over single-file SQLite (default), PostgreSQL or MySQL
  - RedisStore:  one hash per key, WATCH/MULTI for the version check
  - MongoStore:  one document per key, version-filtered updates

NewStore selects a backend from config.StateConfig.
*/
package state
