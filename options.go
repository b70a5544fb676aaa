package filesync

// Option represents a configuration option
type Option func(*Options)

// Options contains all possible options for write and copy operations
type Options struct {
	// ContentType specifies the MIME type of the file
	ContentType string

	// Metadata contains additional metadata for the file
	Metadata map[string]string

	// CacheControl sets the Cache-Control header for the file
	CacheControl string

	// PreserveACL copies the source object's ACL on server-side copies
	PreserveACL bool
}

// ApplyOptions folds the given options into a fresh Options value.
func ApplyOptions(options ...Option) *Options {
	opts := &Options{}
	for _, option := range options {
		option(opts)
	}
	return opts
}

// WithContentType sets the content type of the file
func WithContentType(contentType string) Option {
	return func(o *Options) {
		o.ContentType = contentType
	}
}

// WithMetadata sets additional metadata for the file
func WithMetadata(metadata map[string]string) Option {
	return func(o *Options) {
		o.Metadata = metadata
	}
}

// WithCacheControl sets the Cache-Control header
func WithCacheControl(cacheControl string) Option {
	return func(o *Options) {
		o.CacheControl = cacheControl
	}
}

// WithPreserveACL enables copying the source ACL
func WithPreserveACL(preserve bool) Option {
	return func(o *Options) {
		o.PreserveACL = preserve
	}
}
