package client

import "github.com/mediaplane/client/internal/logging"

// sugar is the package-wide logger for audio, transport, session, and bot
// diagnostics. A package-level logger (rather than one threaded through
// every type) fits this package's shape: a single importable library with
// one process per client, not a multi-tenant server needing per-request
// loggers.
var sugar = logging.Must("info")
