package cache

import "embed"

// embeddedMigrations holds the sqlite schema migrations applied by
// SQLite.Setup, embedded rather than loaded from a filesystem path, since
// this daemon ships as a single static binary.
//
//go:embed sqlite_migrations/*.sql
var embeddedMigrations embed.FS
