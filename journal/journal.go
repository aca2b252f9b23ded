// Package journal keeps an append-only operational record of an execution
// session: grid fills, twap chunks and cancellations. Records are buffered
// in memory and flushed to parquet on Close, optionally uploading to S3.
// Engines only ever write to the journal; nothing reads it back.
package journal

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	appconfig "tradeflow/config"
	"tradeflow/logger"
)

// FillRecord is one grid order fill.
type FillRecord struct {
	SessionID string  `parquet:"name=session_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Symbol    string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	Side      string  `parquet:"name=side, type=BYTE_ARRAY, convertedtype=UTF8"`
	OrderID   int64   `parquet:"name=order_id, type=INT64"`
	Level     float64 `parquet:"name=level, type=DOUBLE"`
	Price     float64 `parquet:"name=price, type=DOUBLE"`
	Quantity  float64 `parquet:"name=quantity, type=DOUBLE"`
	Profit    float64 `parquet:"name=profit, type=DOUBLE"`
	Timestamp int64   `parquet:"name=timestamp, type=INT64"`
}

// ChunkRecord is one twap chunk attempt, successful or not.
type ChunkRecord struct {
	SessionID string  `parquet:"name=session_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Symbol    string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	Side      string  `parquet:"name=side, type=BYTE_ARRAY, convertedtype=UTF8"`
	Seq       int32   `parquet:"name=seq, type=INT32"`
	OrderID   int64   `parquet:"name=order_id, type=INT64"`
	Quantity  float64 `parquet:"name=quantity, type=DOUBLE"`
	AvgPrice  float64 `parquet:"name=avg_price, type=DOUBLE"`
	Succeeded bool    `parquet:"name=succeeded, type=BOOLEAN"`
	Error     string  `parquet:"name=error, type=BYTE_ARRAY, convertedtype=UTF8"`
	Timestamp int64   `parquet:"name=timestamp, type=INT64"`
}

// CancelRecord is one order cancellation issued during cleanup.
type CancelRecord struct {
	SessionID string `parquet:"name=session_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Symbol    string `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	OrderID   int64  `parquet:"name=order_id, type=INT64"`
	Timestamp int64  `parquet:"name=timestamp, type=INT64"`
}

// Session accumulates the records of one engine run. All methods are safe on
// a nil receiver so callers can carry a disabled journal without nil checks.
type Session struct {
	ID      string
	engine  string
	symbol  string
	started time.Time

	cfg      appconfig.JournalConfig
	s3Client *s3.Client
	log      *logger.Entry

	mu      sync.Mutex
	fills   []FillRecord
	chunks  []ChunkRecord
	cancels []CancelRecord
}

// NewSession opens a journal session for one engine run. Returns (nil, nil)
// when the journal is disabled in configuration.
func NewSession(ctx context.Context, cfg appconfig.JournalConfig, engine, symbol string) (*Session, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	s := &Session{
		ID:      uuid.New().String(),
		engine:  engine,
		symbol:  symbol,
		started: time.Now().UTC(),
		cfg:     cfg,
		log: logger.GetLogger().WithComponent("journal").WithFields(logger.Fields{
			"engine": engine,
			"symbol": symbol,
		}),
	}

	if cfg.S3.Enabled {
		loadOpts := []func(*awsconfig.LoadOptions) error{
			awsconfig.WithRegion(cfg.S3.Region),
		}
		if cfg.S3.AccessKeyID != "" && cfg.S3.SecretAccessKey != "" {
			loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(cfg.S3.AccessKeyID, cfg.S3.SecretAccessKey, ""),
			))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
		}
		s.s3Client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if cfg.S3.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.S3.Endpoint)
			}
			o.UsePathStyle = cfg.S3.PathStyle
		})
	}

	s.log.WithFields(logger.Fields{"session_id": s.ID}).Info("journal session opened")
	return s, nil
}

// RecordFill appends a grid fill to the session.
func (s *Session) RecordFill(r FillRecord) {
	if s == nil {
		return
	}
	r.SessionID = s.ID
	if r.Timestamp == 0 {
		r.Timestamp = time.Now().UnixMilli()
	}
	s.mu.Lock()
	s.fills = append(s.fills, r)
	s.mu.Unlock()
}

// RecordChunk appends a twap chunk attempt to the session.
func (s *Session) RecordChunk(r ChunkRecord) {
	if s == nil {
		return
	}
	r.SessionID = s.ID
	if r.Timestamp == 0 {
		r.Timestamp = time.Now().UnixMilli()
	}
	s.mu.Lock()
	s.chunks = append(s.chunks, r)
	s.mu.Unlock()
}

// RecordCancel appends a cleanup cancellation to the session.
func (s *Session) RecordCancel(r CancelRecord) {
	if s == nil {
		return
	}
	r.SessionID = s.ID
	if r.Timestamp == 0 {
		r.Timestamp = time.Now().UnixMilli()
	}
	s.mu.Lock()
	s.cancels = append(s.cancels, r)
	s.mu.Unlock()
}

// Counts returns how many records of each kind the session holds.
func (s *Session) Counts() (fills, chunks, cancels int) {
	if s == nil {
		return 0, 0, 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fills), len(s.chunks), len(s.cancels)
}

// Close flushes the buffered records to parquet files and, when configured,
// uploads them to S3. A session with no records writes nothing.
func (s *Session) Close(ctx context.Context) error {
	if s == nil {
		return nil
	}

	s.mu.Lock()
	fills := s.fills
	chunks := s.chunks
	cancels := s.cancels
	s.mu.Unlock()

	var firstErr error
	flush := func(kind string, count int, write func(pw *writer.ParquetWriter) error, sample interface{}) {
		if count == 0 {
			return
		}
		if err := s.flushFile(ctx, kind, count, write, sample); err != nil {
			s.log.WithError(err).WithFields(logger.Fields{"kind": kind}).Error("failed to flush journal records")
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	flush("fills", len(fills), func(pw *writer.ParquetWriter) error {
		for _, r := range fills {
			if err := pw.Write(r); err != nil {
				return err
			}
		}
		return nil
	}, new(FillRecord))

	flush("chunks", len(chunks), func(pw *writer.ParquetWriter) error {
		for _, r := range chunks {
			if err := pw.Write(r); err != nil {
				return err
			}
		}
		return nil
	}, new(ChunkRecord))

	flush("cancels", len(cancels), func(pw *writer.ParquetWriter) error {
		for _, r := range cancels {
			if err := pw.Write(r); err != nil {
				return err
			}
		}
		return nil
	}, new(CancelRecord))

	s.log.WithFields(logger.Fields{
		"session_id": s.ID,
		"fills":      len(fills),
		"chunks":     len(chunks),
		"cancels":    len(cancels),
	}).Info("journal session closed")

	return firstErr
}

func (s *Session) flushFile(ctx context.Context, kind string, count int, write func(pw *writer.ParquetWriter) error, sample interface{}) error {
	filename := fmt.Sprintf("%s_%s_%s_%s.parquet",
		s.engine, s.symbol, kind, s.started.Format("20060102150405"))

	if s.cfg.Directory != "" {
		if err := os.MkdirAll(s.cfg.Directory, 0o755); err != nil {
			return fmt.Errorf("failed to create journal directory: %w", err)
		}
		path := filepath.Join(s.cfg.Directory, filename)
		fw, err := local.NewLocalFileWriter(path)
		if err != nil {
			return fmt.Errorf("failed to create journal file: %w", err)
		}
		if err := s.writeParquet(fw, write, sample); err != nil {
			fw.Close()
			return err
		}
		if err := fw.Close(); err != nil {
			return fmt.Errorf("failed to close journal file: %w", err)
		}
		s.log.WithFields(logger.Fields{"path": path, "records": count}).Info("journal records written")
	}

	if s.s3Client != nil {
		mw := newMemoryFile()
		if err := s.writeParquet(mw, write, sample); err != nil {
			return err
		}
		key := s.s3Key(filename)
		input := &s3.PutObjectInput{
			Bucket:      aws.String(s.cfg.S3.Bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(mw.Bytes()),
			ContentType: aws.String("application/octet-stream"),
		}
		if _, err := s.s3Client.PutObject(context.WithoutCancel(ctx), input); err != nil {
			return fmt.Errorf("failed to upload journal to S3 bucket %s: %w", s.cfg.S3.Bucket, err)
		}
		s.log.WithFields(logger.Fields{"s3_key": key, "records": count}).Info("journal records uploaded")
	}

	return nil
}

func (s *Session) writeParquet(fw source.ParquetFile, write func(pw *writer.ParquetWriter) error, sample interface{}) error {
	pw, err := writer.NewParquetWriter(fw, sample, 1)
	if err != nil {
		return fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	if err := write(pw); err != nil {
		pw.WriteStop()
		return fmt.Errorf("failed to write parquet record: %w", err)
	}
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("failed to finalize parquet writing: %w", err)
	}
	return nil
}

func (s *Session) s3Key(filename string) string {
	key := filepath.Join(
		fmt.Sprintf("engine=%s", s.engine),
		fmt.Sprintf("symbol=%s", s.symbol),
		fmt.Sprintf("date=%s", s.started.Format("2006-01-02")),
		filename,
	)
	return filepath.ToSlash(key)
}

// memoryFile implements source.ParquetFile over an in-memory buffer for the
// S3 path, where no local file is wanted.
type memoryFile struct {
	buffer *bytes.Buffer
}

func newMemoryFile() *memoryFile {
	return &memoryFile{buffer: &bytes.Buffer{}}
}

func (m *memoryFile) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *memoryFile) Open(string) (source.ParquetFile, error)   { return m, nil }
func (m *memoryFile) Seek(int64, int) (int64, error)            { return int64(m.buffer.Len()), nil }
func (m *memoryFile) Read(b []byte) (int, error)                { return m.buffer.Read(b) }
func (m *memoryFile) Write(b []byte) (int, error)               { return m.buffer.Write(b) }
func (m *memoryFile) Close() error                              { return nil }
func (m *memoryFile) Bytes() []byte                             { return m.buffer.Bytes() }
