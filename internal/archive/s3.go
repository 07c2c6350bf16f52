package archive

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"Mail2Ledger/internal/config"
	"Mail2Ledger/internal/workbook"
)

// Putter is the subset of the S3 client used here.
type Putter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Object is one raw statement file to keep.
type Object struct {
	ClientID int64
	Name     string
	SHA256   string
	Data     []byte
}

// Archiver stores original statement files in S3, keyed by client and content hash.
type Archiver struct {
	client  Putter
	bucket  string
	prefix  string
	baseURL string
}

func NewArchiver(client Putter, cfg config.ArchiveConfig) *Archiver {
	prefix := cfg.Prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	baseURL := strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = fmt.Sprintf("https://%s.s3.%s.amazonaws.com", cfg.Bucket, cfg.Region)
	}
	return &Archiver{client: client, bucket: cfg.Bucket, prefix: prefix, baseURL: baseURL + "/"}
}

// NewS3Archiver loads the default AWS credential chain for the configured region.
func NewS3Archiver(ctx context.Context, cfg config.ArchiveConfig) (*Archiver, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return NewArchiver(s3.NewFromConfig(awsCfg), cfg), nil
}

func sanitizePathSegment(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "unknown"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "_", "\\", "_")
	return replacer.Replace(s)
}

// Key is <prefix><client>/<sha256><ext>.
func (a *Archiver) Key(o Object) string {
	ext := workbook.Ext(o.Name)
	if ext == "" {
		ext = ".bin"
	}
	client := ""
	if o.ClientID != 0 {
		client = strconv.FormatInt(o.ClientID, 10)
	}
	return fmt.Sprintf("%s%s/%s%s", a.prefix, sanitizePathSegment(client), o.SHA256, ext)
}

func detectContentType(name string, data []byte) string {
	switch workbook.Ext(name) {
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".xls":
		return "application/vnd.ms-excel"
	}
	if len(data) == 0 {
		return "application/octet-stream"
	}
	if len(data) > 512 {
		return http.DetectContentType(data[:512])
	}
	return http.DetectContentType(data)
}

// Store uploads the object and returns its URL.
func (a *Archiver) Store(ctx context.Context, o Object) (string, error) {
	key := a.Key(o)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(o.Data),
		ContentType: aws.String(detectContentType(o.Name, o.Data)),
		Metadata:    map[string]string{"original-name": o.Name},
	})
	if err != nil {
		return "", fmt.Errorf("upload to s3 (bucket %s, key %s): %w", a.bucket, key, err)
	}
	return a.baseURL + key, nil
}
