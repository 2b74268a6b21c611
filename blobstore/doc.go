// Package blobstore provides storage abstraction for snapshot blobs.
//
// BlobStore is the interface for reading and writing immutable snapshot
// data and the mutable checkpoint pointer. Implementations must be safe
// for concurrent use.
//
// # Built-in Implementations
//
//   - LocalStore: local filesystem with atomic rename-based commits
//   - MemoryStore: in-memory store for tests
//   - s3.Store: Amazon S3 with range reads and managed multipart uploads
//   - s3.CommitStore: S3 blobs plus a DynamoDB conditional write for the
//     checkpoint pointer, enabling safe concurrent writers
//   - minio.Store: MinIO and other S3-compatible object stores
//
// # Custom Implementations
//
// Implement the BlobStore interface to support other backends. Object
// stores should implement ReadRange so consumers can fetch individual
// snapshot sections without downloading the whole blob.
package blobstore
