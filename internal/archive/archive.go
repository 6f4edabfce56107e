// Package archive buffers per-step statistics rows and writes them as a
// Parquet object to S3-compatible storage.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/parquet-go/parquet-go"

	"github.com/banshee-data/simstats/internal/monitoring"
	"github.com/banshee-data/simstats/internal/reconstruct"
	"github.com/banshee-data/simstats/internal/security"
)

// Row is the Parquet schema: one row per completed step.
type Row struct {
	SimID          string  `parquet:"sim_id"`
	Step           int64   `parquet:"step"`
	CorrectFlag    int32   `parquet:"correct_flag"`
	CarNumber      int32   `parquet:"car_number"`
	SpeedMin       float64 `parquet:"speed_min"`
	SpeedMax       float64 `parquet:"speed_max"`
	SpeedAve       float64 `parquet:"speed_ave"`
	AccAve         float64 `parquet:"acc_ave"`
	CarIn          int32   `parquet:"car_in"`
	CarOut         int32   `parquet:"car_out"`
	LowSpeed       int32   `parquet:"low_speed"`
	JamIndex       float64 `parquet:"jam_index"`
	QueueLengthAve float64 `parquet:"queue_length_ave"`
	QueueTimeAve   float64 `parquet:"queue_time_ave"`
	StopAve        float64 `parquet:"stop_ave"`
	DelayAve       float64 `parquet:"delay_ave"`
	FlowRoadAve    float64 `parquet:"flow_rd_ave"`
	FlowLaneAve    float64 `parquet:"flow_la_ave"`
}

// Uploader is the subset of *s3.Client the archiver uses.
type Uploader interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config names an S3-compatible endpoint.
type S3Config struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
}

// ErrNotConfigured is returned by NewS3Client when credentials are missing.
var ErrNotConfigured = errors.New("archive: object storage not configured")

// NewS3Client builds a client for an S3-compatible endpoint.
func NewS3Client(cfg S3Config) (*s3.Client, error) {
	if cfg.Endpoint == "" || cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, ErrNotConfigured
	}
	region := cfg.Region
	if region == "" {
		region = "auto"
	}
	endpoint := cfg.Endpoint
	return s3.New(s3.Options{
		BaseEndpoint: &endpoint,
		Region:       region,
		UsePathStyle: true,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
	}), nil
}

// Archiver is a reconstruct.Sink that keeps rows per simulation until
// Flush.
type Archiver struct {
	up     Uploader
	bucket string
	prefix string
	runID  string
	now    func() time.Time

	mu   sync.Mutex
	rows map[string][]Row
}

// New returns an Archiver writing objects under
// <prefix>/<sim>/<runID>.parquet.
func New(up Uploader, bucket, prefix, runID string) *Archiver {
	if prefix == "" {
		prefix = "steps"
	}
	return &Archiver{
		up:     up,
		bucket: bucket,
		prefix: prefix,
		runID:  runID,
		now:    time.Now,
		rows:   make(map[string][]Row),
	}
}

func (a *Archiver) Emit(_ context.Context, out *reconstruct.StepOutput) error {
	if out.Stats == nil {
		return nil
	}
	st := out.Stats
	g := st.Global
	row := Row{
		SimID:          out.SimID,
		Step:           int64(out.Step),
		CorrectFlag:    int32(out.CorrectFlag),
		CarNumber:      int32(st.CarNumber),
		SpeedMin:       st.SpeedMin,
		SpeedMax:       st.SpeedMax,
		SpeedAve:       st.SpeedAve,
		AccAve:         st.AccAve,
		CarIn:          int32(st.CarIn),
		CarOut:         int32(st.CarOut),
		LowSpeed:       int32(st.LowSpeed),
		JamIndex:       st.JamIndex,
		QueueLengthAve: g.QueueLengthAve,
		QueueTimeAve:   g.QueueTimeAve,
		StopAve:        g.StopAve,
		DelayAve:       g.DelayAve,
		FlowRoadAve:    g.Flow.RoadAve,
		FlowLaneAve:    g.Flow.LaneAve,
	}
	a.mu.Lock()
	a.rows[out.SimID] = append(a.rows[out.SimID], row)
	a.mu.Unlock()
	return nil
}

// Buffered returns the number of rows held for simID.
func (a *Archiver) Buffered(simID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.rows[simID])
}

// Key returns the object key for simID.
func (a *Archiver) Key(simID string) string {
	return fmt.Sprintf("%s/%s/%s.parquet", a.prefix, security.SanitizeSegment(simID), a.runID)
}

// Flush writes and uploads one object per simulation with buffered rows.
// An object that already exists is left alone. Uploaded simulations are
// cleared; failed ones keep their rows.
func (a *Archiver) Flush(ctx context.Context) error {
	a.mu.Lock()
	pending := a.rows
	a.rows = make(map[string][]Row)
	a.mu.Unlock()

	var errs []error
	for sim, rows := range pending {
		if err := a.upload(ctx, sim, rows); err != nil {
			errs = append(errs, fmt.Errorf("sim %s: %w", sim, err))
			a.mu.Lock()
			a.rows[sim] = append(rows, a.rows[sim]...)
			a.mu.Unlock()
		}
	}
	return errors.Join(errs...)
}

func (a *Archiver) upload(ctx context.Context, sim string, rows []Row) error {
	startTime := a.now()
	key := a.Key(sim)

	// Idempotent per run.
	if _, err := a.up.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &a.bucket,
		Key:    &key,
	}); err == nil {
		monitoring.Logf("[archive] %s already exists, skipping", key)
		return nil
	}

	body, err := Encode(rows)
	if err != nil {
		return err
	}

	contentType := "application/vnd.apache.parquet"
	_, err = a.up.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &a.bucket,
		Key:         &key,
		Body:        bytes.NewReader(body),
		ContentType: &contentType,
		Metadata: map[string]string{
			"rows":   strconv.Itoa(len(rows)),
			"sim-id": sim,
			"run-id": a.runID,
		},
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}

	sizeKB := float64(len(body)) / 1024
	monitoring.Logf("[archive] archived %d steps (%.1f KB) to %s in %s", len(rows), sizeKB, key, a.now().Sub(startTime))
	return nil
}

// Encode writes rows as a Parquet file.
func Encode(rows []Row) ([]byte, error) {
	var buf bytes.Buffer
	writer := parquet.NewGenericWriter[Row](&buf)
	if _, err := writer.Write(rows); err != nil {
		return nil, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}
