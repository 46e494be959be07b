package store

import _ "embed"

// Schema creates every table the SQL drivers use. It is idempotent.
//
//go:embed migrations/001_initial.sql
var Schema string
