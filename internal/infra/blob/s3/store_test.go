package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"tracecore/internal/blob/core"
)

// fakeBucket is a tiny path-style S3 subset: Head, Get, Put, Delete and
// ListObjectsV2 with one key per page to exercise pagination.
type fakeBucket struct {
	mu      sync.Mutex
	objects map[string]fakeObject
	puts    int
}

type fakeObject struct {
	body        []byte
	contentType string
	meta        map[string]string
}

var fakeModified = time.Date(2025, 3, 4, 12, 0, 0, 0, time.UTC)

func empty(status int) *http.Response {
	return &http.Response{StatusCode: status, Body: io.NopCloser(bytes.NewReader(nil)), Header: http.Header{}}
}

func (f *fakeBucket) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}
	if req.Method == http.MethodGet && req.URL.Query().Get("list-type") == "2" {
		return f.list(req), nil
	}
	switch req.Method {
	case http.MethodHead, http.MethodGet:
		obj, ok := f.objects[key]
		if !ok {
			return empty(http.StatusNotFound), nil
		}
		h := http.Header{
			"Content-Length": {strconv.Itoa(len(obj.body))},
			"Content-Type":   {obj.contentType},
			"Etag":           {"\"etag-" + key + "\""},
			"Last-Modified":  {fakeModified.Format(http.TimeFormat)},
		}
		for k, v := range obj.meta {
			h.Set("X-Amz-Meta-"+k, v)
		}
		body := []byte(nil)
		if req.Method == http.MethodGet {
			body = obj.body
		}
		return &http.Response{StatusCode: http.StatusOK, Header: h, Body: io.NopCloser(bytes.NewReader(body)), ContentLength: int64(len(obj.body))}, nil
	case http.MethodPut:
		if _, ok := f.objects[key]; ok && req.Header.Get("If-None-Match") == "*" {
			return empty(http.StatusPreconditionFailed), nil
		}
		body, _ := io.ReadAll(req.Body)
		meta := map[string]string{}
		for k, v := range req.Header {
			if strings.HasPrefix(strings.ToLower(k), "x-amz-meta-") {
				meta[strings.ToLower(strings.TrimPrefix(strings.ToLower(k), "x-amz-meta-"))] = v[0]
			}
		}
		f.objects[key] = fakeObject{body: body, contentType: req.Header.Get("Content-Type"), meta: meta}
		f.puts++
		resp := empty(http.StatusOK)
		resp.Header.Set("Etag", "\"etag-"+key+"\"")
		return resp, nil
	case http.MethodDelete:
		delete(f.objects, key)
		return empty(http.StatusNoContent), nil
	}
	return empty(http.StatusNotImplemented), nil
}

func (f *fakeBucket) list(req *http.Request) *http.Response {
	q := req.URL.Query()
	prefix := q.Get("prefix")
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	start := 0
	if tok := q.Get("continuation-token"); tok != "" {
		start, _ = strconv.Atoi(tok)
	}
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><ListBucketResult>`)
	if start+1 < len(keys) {
		fmt.Fprintf(&b, "<IsTruncated>true</IsTruncated><NextContinuationToken>%d</NextContinuationToken>", start+1)
	} else {
		b.WriteString("<IsTruncated>false</IsTruncated>")
	}
	if start < len(keys) {
		k := keys[start]
		fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>%d</Size><ETag>&quot;etag&quot;</ETag><LastModified>%s</LastModified></Contents>",
			k, len(f.objects[k].body), fakeModified.Format(time.RFC3339))
	}
	b.WriteString("</ListBucketResult>")
	return &http.Response{StatusCode: http.StatusOK, Header: http.Header{"Content-Type": {"application/xml"}}, Body: io.NopCloser(strings.NewReader(b.String()))}
}

func newFakeStore(t *testing.T, prefix string) (*Store, *fakeBucket) {
	t.Helper()
	bucket := &fakeBucket{objects: map[string]fakeObject{}}
	store, err := New(context.Background(), Config{
		Bucket:          "archives",
		Prefix:          prefix,
		Region:          "us-east-1",
		Endpoint:        "https://mock.s3.local",
		AccessKeyID:     "AKIA",
		SecretAccessKey: "SECRET",
		PathStyle:       true,
		HTTPClient:      &http.Client{Transport: bucket},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return store, bucket
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, bucket := newFakeStore(t, "tc/")
	info, err := store.Put(ctx, "LOT-A/trace.json", bytes.NewReader([]byte(`{"seed":"LOT-A"}`)), core.PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"seed": "LOT-A"},
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Key != "LOT-A/trace.json" || info.ContentType != "application/json" || info.Size != 16 || info.ETag != "etag-tc/LOT-A/trace.json" {
		t.Fatalf("unexpected info %+v", info)
	}
	if !info.LastModified.Equal(fakeModified) || info.Metadata["seed"] != "LOT-A" {
		t.Fatalf("unexpected head fields %+v", info)
	}
	if _, ok := bucket.objects["tc/LOT-A/trace.json"]; !ok {
		t.Fatalf("expected prefixed object key, have %v", bucket.objects)
	}

	if _, err := store.Put(ctx, "LOT-A/trace.json", bytes.NewReader([]byte("x")), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	if bucket.puts != 1 {
		t.Fatalf("duplicate put reached the bucket")
	}

	_, rc, err := store.Get(ctx, "LOT-A/trace.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != `{"seed":"LOT-A"}` {
		t.Fatalf("body = %q", body)
	}

	u, err := store.PresignURL(ctx, "LOT-A/trace.json", core.SignedURLOptions{Expiry: time.Minute})
	if err != nil || !strings.Contains(u, "/archives/tc/LOT-A/trace.json") || !strings.Contains(u, "X-Amz-Expires=60") {
		t.Fatalf("presign = %q, %v", u, err)
	}
	if _, err := store.PresignURL(ctx, "LOT-A/trace.json", core.SignedURLOptions{Method: "DELETE"}); !errors.Is(err, core.ErrUnsupported) {
		t.Fatalf("expected unsupported, got %v", err)
	}

	ok, err := store.Delete(ctx, "LOT-A/trace.json")
	if err != nil || !ok {
		t.Fatalf("delete: %v %v", ok, err)
	}
	ok, err = store.Delete(ctx, "LOT-A/trace.json")
	if err != nil || ok {
		t.Fatalf("second delete should report missing: %v %v", ok, err)
	}
}

func TestStoreMissingKeys(t *testing.T) {
	ctx := context.Background()
	store, _ := newFakeStore(t, "")
	if _, err := store.Head(ctx, "nope"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("head: expected ErrNotFound, got %v", err)
	}
	if _, _, err := store.Get(ctx, "nope"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("get: expected ErrNotFound, got %v", err)
	}
	if _, err := store.Put(ctx, " ", bytes.NewReader(nil), core.PutOptions{}); err == nil {
		t.Fatalf("expected empty key rejection")
	}
}

func TestStoreListPaginates(t *testing.T) {
	ctx := context.Background()
	store, _ := newFakeStore(t, "tc/")
	for _, k := range []string{"LOT-B/2.csv", "LOT-B/1.csv", "LOT-C/1.csv"} {
		if _, err := store.Put(ctx, k, bytes.NewReader([]byte("x")), core.PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", k, err)
		}
	}
	infos, err := store.List(ctx, "LOT-B/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 2 || infos[0].Key != "LOT-B/1.csv" || infos[1].Key != "LOT-B/2.csv" || infos[0].Size != 1 {
		t.Fatalf("unexpected listing %+v", infos)
	}
}

func TestNewRequiresBucket(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected bucket error")
	}
	s, err := New(context.Background(), Config{Bucket: "b", AccessKeyID: "AKIA", SecretAccessKey: "SECRET"})
	if err != nil || s.Driver() != core.DriverS3 {
		t.Fatalf("New: %v", err)
	}
}
