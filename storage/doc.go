// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

// Package storage keeps files shared in chat rooms in an S3-compatible
// bucket such as MinIO.
package storage
