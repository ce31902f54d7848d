package internal

// Version is reported by the version command and /health.
// Release builds override it with -ldflags "-X taskchat/internal.Version=...".
var Version = "0.3.0"
