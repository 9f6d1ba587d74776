// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

// Package session holds the current viewer identity with an explicit
// lifecycle: Init, OnChange, Dispose.
package session
