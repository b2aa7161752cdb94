// Package config loads the marketd JSON configuration, fills defaults and
// resolves secrets from the environment. Derived values such as the
// settlement mode and the per-merchant credential map are computed once here
// so downstream packages receive plain values instead of reading the
// environment themselves.
package config
