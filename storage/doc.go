// Package storage provides the attachment storage backends.
//
// Every backend stores an object under a sharded key produced by
// interfaces.KeyFor:
//
//	[id / 10000, id % 10000, filename]
//
// so that no single grouping holds more than ten thousand entries.
//
//   - File system storage, the reference implementation
//   - S3-compatible object storage with public-read or private ACLs
//   - IPFS mutable file system (MFS) storage
//   - Vault KV v2 storage for small private attachments
//   - Mirrored storage over any of the above
//
// # Storage URI Format
//
// Storage backends are specified using URI format:
//
//	[scheme]://[auth@]host[:port][/path][?params]
//
// Supported URI schemes:
//
//   - file:///var/lib/attachments?public=/images/attachments
//   - s3://AKID:SECRET@bucket-name/prefix/?region=us-west-2&public=https://cdn.example.com
//   - ipfs://localhost:5001/attachments?public=https://gateway.example.com/attachments
//   - vault://TOKEN@vault.example.com:8200/secret/attachments
//
// # Local Copies
//
// FetchLocalCopy always returns a fresh temporary file that keeps the
// object's extension, so external tools that sniff formats by name work on
// it. Callers release it with interfaces.ReleaseLocalCopy.
package storage
