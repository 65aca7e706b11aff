package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"callscribe/internal/segment"
	"callscribe/internal/services"
)

// GCSOptions configures the bucket archiver.
type GCSOptions struct {
	Bucket          string
	Prefix          string
	CredentialsFile string
}

// GCS uploads segment audio to a Cloud Storage bucket. Objects stay private.
type GCS struct {
	client *gcs.Client
	bucket string
	prefix string
}

// NewGCS opens a storage client. Credentials come from CredentialsFile when
// set, otherwise from application default credentials.
func NewGCS(ctx context.Context, opts GCSOptions) (*GCS, error) {
	if opts.Bucket == "" {
		return nil, services.Wrap(services.ErrConfiguration, "archive", "gcs client", "bucket is required", nil)
	}
	var clientOpts []option.ClientOption
	if opts.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
	}
	client, err := gcs.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "archive", "gcs client", "create storage client", err)
	}
	return &GCS{client: client, bucket: opts.Bucket, prefix: opts.Prefix}, nil
}

// Archive uploads the segment and returns its gs:// URL.
func (g *GCS) Archive(ctx context.Context, seg segment.Segment, meta Metadata) (string, error) {
	name := ObjectName(g.prefix, seg, meta.MeetingID)
	obj := g.client.Bucket(g.bucket).Object(name)

	w := obj.NewWriter(ctx)
	w.ContentType = ContentType(seg.Format)
	w.Metadata = map[string]string{
		"meeting_id":    meta.MeetingID,
		"session_id":    seg.SessionID,
		"sequence":      strconv.FormatInt(seg.Sequence, 10),
		"start_time_ms": strconv.FormatInt(seg.StartTimeMs, 10),
		"end_time_ms":   strconv.FormatInt(seg.EndTimeMs, 10),
		"confidence":    strconv.FormatFloat(meta.Confidence, 'f', 3, 64),
	}
	if _, err := io.Copy(w, bytes.NewReader(seg.Audio)); err != nil {
		_ = w.Close()
		return "", services.Wrap(services.ErrTransient, "archive", "upload", name, err)
	}
	if err := w.Close(); err != nil {
		return "", services.Wrap(services.ErrTransient, "archive", "upload", name, err)
	}
	return fmt.Sprintf("gs://%s/%s", g.bucket, name), nil
}

// Close releases the storage client.
func (g *GCS) Close() error { return g.client.Close() }
