package filesync

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestParseURL(t *testing.T) {
	tests := []struct {
		raw  string
		want StorageURL
	}{
		{"/data/photos", StorageURL{Scheme: SchemeFile, Object: "/data/photos"}},
		{"relative/dir", StorageURL{Scheme: SchemeFile, Object: "relative/dir"}},
		{"file:///tmp/x", StorageURL{Scheme: SchemeFile, Object: "/tmp/x"}},
		{"gs://bucket", StorageURL{Scheme: SchemeGCS, Bucket: "bucket"}},
		{"gs://bucket/", StorageURL{Scheme: SchemeGCS, Bucket: "bucket"}},
		{"GS://bucket/a/b", StorageURL{Scheme: SchemeGCS, Bucket: "bucket", Object: "a/b"}},
		{"s3://bkt/prefix/", StorageURL{Scheme: SchemeS3, Bucket: "bkt", Object: "prefix/"}},
		{"az://container/dir", StorageURL{Scheme: SchemeAzure, Bucket: "container", Object: "dir"}},
		{"sftp://host/home/me", StorageURL{Scheme: SchemeSFTP, Bucket: "host", Object: "home/me"}},
		{"mem://b/x", StorageURL{Scheme: SchemeMem, Bucket: "b", Object: "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseURL(tt.raw)
			if err != nil {
				t.Fatalf("ParseURL(%q) error = %v", tt.raw, err)
			}
			if *got != tt.want {
				t.Errorf("ParseURL(%q) = %+v, want %+v", tt.raw, *got, tt.want)
			}
		})
	}
}

func TestParseURLErrors(t *testing.T) {
	for _, raw := range []string{"", "-", "gs://", "gs:///obj", "ftp://host/x", "file://"} {
		t.Run(raw, func(t *testing.T) {
			_, err := ParseURL(raw)
			if !errors.Is(err, ErrInvalidURL) {
				t.Errorf("ParseURL(%q) error = %v, want ErrInvalidURL", raw, err)
			}
		})
	}
}

func TestMustParseURLPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustParseURL(\"-\") did not panic")
		}
	}()
	MustParseURL("-")
}

func TestStorageURLKinds(t *testing.T) {
	if !MustParseURL("gs://b").IsBucket() {
		t.Error("gs://b should be a bucket")
	}
	if !MustParseURL("gs://b/").IsBucket() {
		t.Error("gs://b/ should be a bucket")
	}
	if MustParseURL("gs://b/dir").IsBucket() {
		t.Error("gs://b/dir should not be a bucket")
	}
	if MustParseURL("/tmp").IsBucket() {
		t.Error("a local path is never a bucket")
	}
	if MustParseURL("/tmp").IsCloudURL() || !MustParseURL("/tmp").IsFileURL() {
		t.Error("/tmp should be a file URL")
	}
	if MustParseURL("s3://b").Delimiter() != '/' {
		t.Error("cloud delimiter should be '/'")
	}
	if MustParseURL("/tmp").Delimiter() != filepath.Separator {
		t.Error("local delimiter should be the OS separator")
	}
}

func TestStorageURLJoin(t *testing.T) {
	tests := []struct {
		base, rel, want string
	}{
		{"gs://b", "a/b.txt", "gs://b/a/b.txt"},
		{"gs://b/", "a.txt", "gs://b/a.txt"},
		{"gs://b/dir", "a.txt", "gs://b/dir/a.txt"},
		{"gs://b/dir/", "sub/a.txt", "gs://b/dir/sub/a.txt"},
		{"gs://b/dir", "", "gs://b/dir"},
		{"/data", "a/b.txt", filepath.Join("/data", "a", "b.txt")},
	}

	for _, tt := range tests {
		t.Run(tt.base+"+"+tt.rel, func(t *testing.T) {
			if got := MustParseURL(tt.base).Join(tt.rel).String(); got != tt.want {
				t.Errorf("Join() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStorageURLEqual(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"gs://b/dir", "gs://b/dir/", true},
		{"gs://b", "gs://b/", true},
		{"gs://b/dir", "s3://b/dir", false},
		{"gs://b/dir", "gs://c/dir", false},
		{"gs://b/dir", "gs://b/dir2", false},
		{"/data/x", "/data/x/", true},
		{"/data/x", "/data/./x", true},
		{"/data/x", "/data/y", false},
	}

	for _, tt := range tests {
		t.Run(tt.a+"="+tt.b, func(t *testing.T) {
			if got := MustParseURL(tt.a).Equal(MustParseURL(tt.b)); got != tt.want {
				t.Errorf("Equal() = %v, want %v", got, tt.want)
			}
		})
	}
}
