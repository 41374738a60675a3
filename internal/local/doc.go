// Prodsync - Production Tracking Hierarchy Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/prodsync

// Package local is the adapter for the Local pipeline store.
//
// Episodes, sequences and shots are Local folders distinguished by their
// folderType; tasks live in their own collection and hang under a folder.
// The project itself is addressed by name. Attribute names are canonical,
// so no translation happens here.
package local
