// Prodsync - Production Tracking Hierarchy Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/prodsync

/*
Package normalize turns raw change notifications into canonical ChangeEvents.

Both normalizers are stateless. Entries that cannot or should not be
synchronized (unsupported entity types, unmapped attributes, malformed
payloads, bookkeeping fields) return an error wrapping ErrIgnored so the
ingestor can log and skip them without failing the batch.

A rename or a single field change becomes an "updated" event whose payload
holds only the changed canonical attributes. Created and removed events carry
no payload; the reconciler reads a fresh source snapshot when it needs one.

Remote mapping:

	Shotgun_<Type>_New, Shotgun_<Type>_Revival  -> created
	Shotgun_<Type>_Change                        -> updated (attribute_name)
	Shotgun_<Type>_Retirement                    -> removed

Local mapping:

	entity.<folder|task>.created                 -> created
	entity.<folder|task>.deleted                 -> removed
	entity.<folder|task>.renamed                 -> updated {name}
	entity.<folder|task>.status_changed          -> updated {status}
	entity.task.assignees_changed                -> updated {assignees}
	entity.<folder|task>.attrib_changed          -> updated {mapped attribs}
*/
package normalize
