// Package interfaces defines the core types and interfaces of the attachment
// system, separating interface definitions from implementations.
//
// # Attachments
//
// Attachment is the metadata record of one stored file: its sanitized
// filename, content type, size, owner slot (Owner plus relationship name),
// position within that slot and the map of stored representations. Pending
// data queued on an attachment is written to its backend on the next save.
//
// # Storage
//
// StorageBackend stores, destroys and fetches objects by StorageKey and
// derives their public URLs. Keys are sharded by attachment id:
//
//	KeyFor(12345, "my_photo__.png") == ["1", "2345", "my_photo__.png"]
//
// StorageBackendFactory creates backends from location URIs such as
// file:///var/attachments?public=/files or s3://bucket/prefix?region=eu-west-1.
//
// # Representations
//
// RepresentationHandler derives an artifact, such as a thumbnail, from an
// attachment's file. A handler that cannot serve a request returns no file
// and no error.
//
// # Metadata
//
// MetadataStore persists attachment records and provides the per-record
// lock used to generate each representation at most once.
package interfaces
