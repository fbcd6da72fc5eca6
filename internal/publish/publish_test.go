package publish

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"buildnative/internal/config"
	"buildnative/internal/digest"
)

type fakeAPI struct {
	objects map[string][]byte
	meta    map[string]map[string]string
	ctypes  map[string]string
	pages   [][]types.Object
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		objects: map[string][]byte{},
		meta:    map[string]map[string]string{},
		ctypes:  map[string]string{},
	}
}

func (f *fakeAPI) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	if int64(len(body)) != aws.ToInt64(in.ContentLength) {
		return nil, errors.New("content length mismatch")
	}
	key := aws.ToString(in.Bucket) + "/" + aws.ToString(in.Key)
	f.objects[key] = body
	f.meta[key] = in.Metadata
	f.ctypes[key] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeAPI) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	body, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}, nil
}

func (f *fakeAPI) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(f.objects, aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeAPI) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	i := 0
	if in.ContinuationToken != nil {
		i = int(aws.ToString(in.ContinuationToken)[0] - '0')
	}
	out := &s3.ListObjectsV2Output{Contents: f.pages[i]}
	if i+1 < len(f.pages) {
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(string(rune('0' + i + 1)))
	}
	return out, nil
}

func TestNewRequiresCredentials(t *testing.T) {
	for _, s := range []config.S3Settings{
		{},
		{Bucket: "b", AccessKey: "a"},
		{Bucket: "b", SecretKey: "s"},
		{AccessKey: "a", SecretKey: "s"},
	} {
		if _, err := New(context.Background(), s, false); !errors.Is(err, ErrNotConfigured) {
			t.Errorf("%+v: err = %v", s, err)
		}
	}
	c, err := New(context.Background(), config.S3Settings{
		Endpoint: "http://127.0.0.1:9000", Region: "auto",
		Bucket: "b", Prefix: "/builds/", AccessKey: "a", SecretKey: "s",
	}, false)
	if err != nil {
		t.Fatal(err)
	}
	if got := c.Key("pkg.tar.zst"); got != "builds/pkg.tar.zst" {
		t.Fatalf("Key = %q", got)
	}
}

func TestKey(t *testing.T) {
	bare := NewWithAPI(newFakeAPI(), "b", "")
	prefixed := NewWithAPI(newFakeAPI(), "b", "ci/linux")
	cases := []struct {
		c    *Client
		in   string
		want string
	}{
		{bare, "a.tar", "a.tar"},
		{bare, "/a.tar", "a.tar"},
		{prefixed, "a.tar", "ci/linux/a.tar"},
		{prefixed, "x/../a.tar", "ci/linux/a.tar"},
		{prefixed, "", "ci/linux/"},
	}
	for _, tc := range cases {
		if got := tc.c.Key(tc.in); got != tc.want {
			t.Errorf("Key(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestContentType(t *testing.T) {
	for key, want := range map[string]string{
		"index.json":  "application/json",
		"pkg.tar.zst": "application/zstd",
		"pkg.tar.gz":  "application/gzip",
		"pkg.tgz":     "application/gzip",
		"pkg.tar.xz":  "application/x-xz",
		"pkg.tar.bz2": "application/x-bzip2",
		"pkg.tar":     "application/x-tar",
		"pkg.zip":     "application/zip",
		"libfoo.so.1": "application/octet-stream",
	} {
		if got := ContentType(key); got != want {
			t.Errorf("ContentType(%q) = %q, want %q", key, got, want)
		}
	}
}

func TestUploadFileAndDownload(t *testing.T) {
	api := newFakeAPI()
	c := NewWithAPI(api, "artifacts", "nightly")

	file := filepath.Join(t.TempDir(), "pkg.tar.zst")
	content := []byte("compressed payload")
	if err := os.WriteFile(file, content, 0o644); err != nil {
		t.Fatal(err)
	}
	sum, err := c.UploadFile(context.Background(), "pkg.tar.zst", file)
	if err != nil {
		t.Fatal(err)
	}
	if !sum.Equal(digest.Bytes(content)) {
		t.Fatalf("digest = %s", sum)
	}
	stored := "artifacts/nightly/pkg.tar.zst"
	if api.ctypes[stored] != "application/zstd" {
		t.Fatalf("content type = %q", api.ctypes[stored])
	}
	if api.meta[stored][DigestMetadataKey] != sum.Hex() {
		t.Fatalf("metadata = %v", api.meta[stored])
	}

	got, err := c.Download(context.Background(), "pkg.tar.zst")
	if err != nil || !bytes.Equal(got, content) {
		t.Fatalf("Download = %q, %v", got, err)
	}
	if err := c.Delete(context.Background(), "pkg.tar.zst"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Download(context.Background(), "pkg.tar.zst"); err == nil {
		t.Fatal("object still present after Delete")
	}
}

func TestUploadFileMissing(t *testing.T) {
	c := NewWithAPI(newFakeAPI(), "b", "")
	if _, err := c.UploadFile(context.Background(), "k", filepath.Join(t.TempDir(), "absent")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err = %v", err)
	}
}

func TestListPaginates(t *testing.T) {
	api := newFakeAPI()
	api.pages = [][]types.Object{
		{{Key: aws.String("p/a"), Size: aws.Int64(1)}, {Key: aws.String("p/b"), Size: aws.Int64(2)}},
		{{Key: aws.String("p/c"), Size: aws.Int64(3)}},
	}
	c := NewWithAPI(api, "b", "p")
	objs, err := c.List(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if len(objs) != 3 || objs[2].Key != "p/c" || objs[2].Size != 3 {
		t.Fatalf("objects = %+v", objs)
	}
}
