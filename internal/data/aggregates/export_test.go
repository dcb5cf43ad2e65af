package aggregates

import "time"

// MaxWriteRetries exposes maxWriteRetries to external test packages.
const MaxWriteRetries = maxWriteRetries

// runnerNow is the fixed clock shared by in-package runner tests.
var runnerNow = time.Date(2025, 8, 14, 20, 0, 0, 0, time.UTC)
