// Copyright 2025 TierFlow
// SPDX-License-Identifier: BUSL-1.1

// Package config loads and hot-reloads the platform configuration.
//
// Configuration is modeled as an immutable, versioned Snapshot that is
// atomically swapped on reload. Components hold a *Store and read the
// current snapshot at decision time, so a reload never exposes a
// partially updated view. Sources in priority order: YAML config file,
// then environment variables, then built-in defaults.
package config
