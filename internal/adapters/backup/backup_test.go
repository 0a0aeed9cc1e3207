package backup

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/ratingmeter/internal/domain/model"
	"github.com/okian/ratingmeter/pkg/logger"
)

var backupTime = time.Date(2024, 5, 1, 12, 30, 45, 0, time.UTC)

type fakeSource struct {
	err error
}

func (f fakeSource) Dump(context.Context) (model.Dump, error) {
	if f.err != nil {
		return model.Dump{}, f.err
	}
	return model.Dump{
		Users: []model.User{
			{ID: "pm", Username: "maker", Role: model.RolePlaymaker},
			{ID: "p1", Username: "ann", Role: model.RolePlayer, Points: 9},
		},
		Samples: []model.Sample{{ID: "s1", Name: "Demo Sample 1", CanonicalRating: 8.5, CreatedBy: "pm"}},
		Ratings: []model.Rating{{ID: "r1", UserID: "p1", SampleID: "s1", Value: 8, PointsEarned: 9}},
	}, nil
}

type memSink struct {
	mu    sync.Mutex
	names []string
	body  []byte
	err   error
}

func (m *memSink) Put(_ context.Context, name string, body []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.names = append(m.names, name)
	m.body = body
	return "mem://" + name, nil
}

func (m *memSink) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.names)
}

type fakePutter struct {
	in *s3.PutObjectInput
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.in = in
	return &s3.PutObjectOutput{}, nil
}

func TestExporter(t *testing.T) {
	Convey("Given an exporter over a small game", t, func() {
		So(logger.Init(), ShouldBeNil)
		ctx := context.Background()
		sink := &memSink{}
		e := NewExporter(fakeSource{}, sink, WithClock(func() time.Time { return backupTime }))

		Convey("When a backup runs", func() {
			res, err := e.Run(ctx)

			Convey("Then a timestamped document holding every record is stored", func() {
				So(err, ShouldBeNil)
				So(res.Name, ShouldEqual, "backup_20240501_123045_000.json")
				So(res.Location, ShouldEqual, "mem://backup_20240501_123045_000.json")
				So(res.Records, ShouldEqual, 4)

				var snap Snapshot
				So(json.Unmarshal(sink.body, &snap), ShouldBeNil)
				So(snap.CreatedAt.Equal(backupTime), ShouldBeTrue)
				So(len(snap.Users), ShouldEqual, 2)
				So(snap.Ratings[0].PointsEarned, ShouldEqual, 9)
			})
		})

		Convey("When two backups run within the same millisecond", func() {
			first, err1 := e.Run(ctx)
			second, err2 := e.Run(ctx)

			Convey("Then they get distinct names and neither overwrites the other", func() {
				So(err1, ShouldBeNil)
				So(err2, ShouldBeNil)
				So(first.Name, ShouldEqual, "backup_20240501_123045_000.json")
				So(second.Name, ShouldEqual, "backup_20240501_123045_001.json")
				So(second.CreatedAt.Sub(first.CreatedAt), ShouldEqual, time.Millisecond)
				So(sink.count(), ShouldEqual, 2)
			})
		})

		Convey("When backups run concurrently", func() {
			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, _ = e.Run(ctx)
				}()
			}
			wg.Wait()

			Convey("Then every name is unique", func() {
				sink.mu.Lock()
				defer sink.mu.Unlock()
				seen := make(map[string]bool)
				for _, n := range sink.names {
					seen[n] = true
				}
				So(len(sink.names), ShouldEqual, 8)
				So(len(seen), ShouldEqual, 8)
			})
		})

		Convey("When the source fails", func() {
			boom := errors.New("boom")
			_, err := NewExporter(fakeSource{err: boom}, sink).Run(ctx)

			Convey("Then nothing is stored", func() {
				So(errors.Is(err, boom), ShouldBeTrue)
				So(sink.count(), ShouldEqual, 0)
			})
		})

		Convey("When the sink fails", func() {
			sink.err = errors.New("disk full")
			_, err := e.Run(ctx)

			Convey("Then the error names the file", func() {
				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldContainSubstring, "backup_20240501_123045_000.json")
			})
		})

		Convey("When scheduled with a short interval", func() {
			ctx, cancel := context.WithCancel(ctx)
			done := make(chan error, 1)
			go func() { done <- e.Schedule(ctx, 5*time.Millisecond) }()

			deadline := time.Now().Add(2 * time.Second)
			for sink.count() < 2 && time.Now().Before(deadline) {
				time.Sleep(5 * time.Millisecond)
			}
			cancel()

			Convey("Then it keeps taking backups until cancelled", func() {
				So(sink.count(), ShouldBeGreaterThanOrEqualTo, 2)
				So(<-done, ShouldBeNil)
			})
		})
	})
}

func TestFileSink(t *testing.T) {
	Convey("Given a file sink pointing at a missing directory", t, func() {
		dir := filepath.Join(t.TempDir(), "nested", "backups")
		sink := FileSink{Dir: dir}

		Convey("When a backup is written", func() {
			loc, err := sink.Put(context.Background(), "backup_x.json", []byte(`{"ok":true}`))

			Convey("Then the directory is created and the file holds the body", func() {
				So(err, ShouldBeNil)
				So(loc, ShouldEqual, filepath.Join(dir, "backup_x.json"))
				got, err := os.ReadFile(loc)
				So(err, ShouldBeNil)
				So(string(got), ShouldEqual, `{"ok":true}`)
			})
		})
	})
}

func TestS3Sink(t *testing.T) {
	Convey("Given an S3 sink with a fake client", t, func() {
		fp := &fakePutter{}
		sink := &S3Sink{client: fp, bucket: "game", prefix: "backups/"}

		Convey("When a backup is uploaded", func() {
			loc, err := sink.Put(context.Background(), "backup_x.json", []byte("{}"))

			Convey("Then the object key carries the prefix", func() {
				So(err, ShouldBeNil)
				So(loc, ShouldEqual, "s3://game/backups/backup_x.json")
				So(*fp.in.Bucket, ShouldEqual, "game")
				So(*fp.in.Key, ShouldEqual, "backups/backup_x.json")
				So(*fp.in.ContentType, ShouldEqual, "application/json")
			})
		})
	})

	Convey("Given an S3-compatible endpoint", t, func() {
		var (
			mu      sync.Mutex
			gotPath string
			gotBody string
		)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			b, _ := io.ReadAll(r.Body)
			mu.Lock()
			gotPath = r.URL.Path
			gotBody = string(b)
			mu.Unlock()
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		sink, err := NewS3Sink(context.Background(), S3Config{
			Bucket:    "game",
			Region:    "us-east-1",
			Endpoint:  srv.URL,
			AccessKey: "key",
			SecretKey: "secret",
			Prefix:    "b/",
		})
		So(err, ShouldBeNil)

		Convey("When a backup is uploaded", func() {
			_, err := sink.Put(context.Background(), "backup_y.json", []byte(`{"users":[]}`))

			Convey("Then a path-style PUT reaches the endpoint", func() {
				So(err, ShouldBeNil)
				mu.Lock()
				defer mu.Unlock()
				So(gotPath, ShouldEqual, "/game/b/backup_y.json")
				So(strings.Contains(gotBody, `{"users":[]}`), ShouldBeTrue)
			})
		})
	})
}

func TestNewS3Sink_ConfigError(t *testing.T) {
	Convey("Given the AWS configuration cannot be loaded", t, func() {
		orig := loadDefaultAWSConfig
		defer func() { loadDefaultAWSConfig = orig }()
		loadDefaultAWSConfig = func(context.Context, ...func(*config.LoadOptions) error) (aws.Config, error) {
			return aws.Config{}, errors.New("no region")
		}

		_, err := NewS3Sink(context.Background(), S3Config{Bucket: "game"})

		So(err, ShouldNotBeNil)
		So(err.Error(), ShouldContainSubstring, "load aws config")
	})
}
