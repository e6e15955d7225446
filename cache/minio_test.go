package cache

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// refusingBucket is an S3 endpoint holding one generation whose objects
// can be listed but not removed.
func refusingBucket(t *testing.T, objects []string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodHead:
			w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
			w.Header().Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
			w.Header().Set("Content-Length", "0")
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodGet && r.URL.Query().Get("list-type") == "2":
			w.Header().Set("Content-Type", "application/xml")
			fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?><ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">`)
			fmt.Fprintf(w, `<Name>cache</Name><KeyCount>%d</KeyCount><MaxKeys>1000</MaxKeys><IsTruncated>false</IsTruncated>`, len(objects))
			for _, o := range objects {
				fmt.Fprintf(w, `<Contents><Key>%s</Key><Size>1</Size></Contents>`, o)
			}
			fmt.Fprint(w, `</ListBucketResult>`)
		case r.Method == http.MethodPost && r.URL.Query().Has("delete"):
			w.Header().Set("Content-Type", "application/xml")
			fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?><DeleteResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">`)
			for _, o := range objects {
				fmt.Fprintf(w, `<Error><Key>%s</Key><Code>AccessDenied</Code><Message>Access Denied</Message></Error>`, o)
			}
			fmt.Fprint(w, `</DeleteResult>`)
		default:
			http.Error(w, "unexpected request", http.StatusBadRequest)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestMinioDeleteReportsFirstFailure(t *testing.T) {
	m := &MinioProvider{bucket: "cache", prefix: "offline/"}
	objects := []string{
		m.markerName("v1"),
		m.entryName("v1", "GET http://dashboard.local/"),
		m.entryName("v1", "GET http://dashboard.local/api_sensors"),
		m.entryName("v1", "GET http://dashboard.local/api/devices"),
	}
	srv := refusingBucket(t, objects)

	client, err := minio.New(strings.TrimPrefix(srv.URL, "http://"), &minio.Options{
		Creds:     credentials.NewStaticV4("access", "secret", ""),
		Region:    "us-east-1",
		Transport: &http.Transport{DisableKeepAlives: true},
	})
	require.NoError(t, err)
	m.client = client

	before := runtime.NumGoroutine()
	existed, err := m.Delete(context.Background(), "v1")
	assert.True(t, existed)
	require.Error(t, err)
	assert.Contains(t, err.Error(), objects[0])

	// every removal result was consumed, nothing is left blocked
	assert.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before
	}, 5*time.Second, 20*time.Millisecond)
}
