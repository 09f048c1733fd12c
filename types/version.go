package types

// Version is the canonical project version. The coordinator and worker
// binaries share this version per the lockstep versioning policy.
const Version = "0.1.0"
