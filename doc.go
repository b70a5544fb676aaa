// Package filesync provides the storage abstraction used by the filesync
// tree-synchronization engine, together with the URL, checksum and
// configuration helpers shared by every backend driver.
//
// The abstraction follows interface segregation: [FileReader] covers the
// operations a synchronization source needs, [FileWriter] the ones a
// destination needs, and [FileSystem] combines both. Optional capabilities
// ([CanCopy], [CanChecksum]) are discovered with type assertions.
//
// # Storage Backends
//
//   - Local filesystem (github.com/gobeaver/filesync/driver/local), bare paths or file://
//   - Google Cloud Storage (github.com/gobeaver/filesync/driver/gcs), gs://
//   - Amazon S3 (github.com/gobeaver/filesync/driver/s3), s3://
//   - Azure Blob Storage (github.com/gobeaver/filesync/driver/azure), az://
//   - SFTP (github.com/gobeaver/filesync/driver/sftp), sftp://
//   - In-memory (github.com/gobeaver/filesync/driver/memory), mem://
//
// Drivers register themselves by URL scheme when imported:
//
//	import _ "github.com/gobeaver/filesync/driver/gcs"
//
//	u, err := filesync.ParseURL("gs://bucket/photos")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fs, err := filesync.Open(ctx, u, cfg)
//
// # Listing
//
// Listings are streamed through a callback so that trees with millions of
// objects never have to fit in memory:
//
//	err := fs.List(ctx, "photos", true, func(obj filesync.ObjectInfo) error {
//	    fmt.Println(obj.Path, obj.Size, obj.MD5)
//	    return nil
//	})
//
// # Checksums
//
// [ObjectInfo.CRC32C] and [ObjectInfo.MD5] carry base64-encoded raw digests,
// the representation used by Google Cloud Storage. Drivers that cannot
// report a digest leave the field empty.
//
// # Errors
//
// All drivers return [*PathError] values wrapping the sentinel errors in this
// package, so callers can test them with [errors.Is]:
//
//	if filesync.IsNotExist(err) {
//	    // already gone
//	}
package filesync
