// Package s3 implements blobstore.BlobStore on Amazon S3.
//
// Store serves snapshot blobs with ranged GETs and streams uploads
// through the SDK's managed multipart uploader. CommitStore layers a
// DynamoDB conditional write on top so the checkpoint pointer advances
// atomically even with concurrent writers; S3 alone has no
// compare-and-swap.
package s3
