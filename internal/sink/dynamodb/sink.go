// Package dynamosink persists records into a DynamoDB table keyed by
// (program, date) using paced BatchWriteItem calls.
package dynamosink

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/crs-draws-etl/internal/etl"
)

// Name identifies this sink in logs and errors.
const Name = "dynamodb"

// Defaults applied by New when fields are unset.
const (
	DefaultTable  = "CRS_history"
	DefaultRegion = "ca-central-1"
	MaxBatchSize  = 25
)

// ErrNoProgress is wrapped when the service returns every item of a batch
// as unprocessed.
var ErrNoProgress = errors.New("batch made no progress")

// Config describes the destination table.
type Config struct {
	Table            string
	Region           string
	Endpoint         string
	BatchSize        int
	BatchesPerSecond float64
}

// BatchWriter is the subset of the DynamoDB client the sink uses.
type BatchWriter interface {
	BatchWriteItem(
		ctx context.Context,
		params *dynamodb.BatchWriteItemInput,
		optFns ...func(*dynamodb.Options),
	) (*dynamodb.BatchWriteItemOutput, error)
}

// Sink writes records with batch-writer semantics.
type Sink struct {
	client    BatchWriter
	table     string
	batchSize int
	limiter   *rate.Limiter
	logger    *zap.Logger
}

// Open builds a client from the default AWS credential chain.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Sink, error) {
	region := cfg.Region
	if region == "" {
		region = DefaultRegion
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, &etl.SinkError{Sink: Name, Op: "connect", Err: err}
	}
	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return New(client, cfg, logger)
}

// New wraps an existing client.
func New(client BatchWriter, cfg Config, logger *zap.Logger) (*Sink, error) {
	if client == nil {
		return nil, errors.New("dynamodb client is required")
	}
	table := cfg.Table
	if table == "" {
		table = DefaultTable
	}
	size := cfg.BatchSize
	if size <= 0 || size > MaxBatchSize {
		size = MaxBatchSize
	}
	if cfg.BatchesPerSecond < 0 {
		return nil, fmt.Errorf("batches per second must be >= 0, got %v", cfg.BatchesPerSecond)
	}
	var limiter *rate.Limiter
	if cfg.BatchesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.BatchesPerSecond), 1)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{client: client, table: table, batchSize: size, limiter: limiter, logger: logger}, nil
}

// Name implements etl.Sink.
func (s *Sink) Name() string { return Name }

// Close implements etl.Sink.
func (s *Sink) Close() error { return nil }

// Persist writes every record. Batches flushed before a failure stay written.
func (s *Sink) Persist(ctx context.Context, ds etl.Dataset) error {
	w := &batchWriter{sink: s, index: make(map[string]int)}
	for i, r := range ds {
		item, err := attributevalue.MarshalMap(r)
		if err != nil {
			return &etl.SinkError{Sink: Name, Op: fmt.Sprintf("marshal record %d", i), Err: err}
		}
		w.put(r.Key(), types.WriteRequest{PutRequest: &types.PutRequest{Item: item}})
		if len(w.pending) >= s.batchSize {
			if err := w.flush(ctx); err != nil {
				return err
			}
		}
	}
	for len(w.pending) > 0 {
		if err := w.flush(ctx); err != nil {
			return err
		}
	}
	s.logger.Info("records written",
		zap.String("table", s.table),
		zap.Int("records", len(ds)),
		zap.Int("batches", w.batches),
	)
	return nil
}

type pendingWrite struct {
	key string
	req types.WriteRequest
}

type batchWriter struct {
	sink    *Sink
	pending []pendingWrite
	index   map[string]int
	batches int
}

// put queues a request, replacing a queued request with the same key.
func (w *batchWriter) put(key string, req types.WriteRequest) {
	if i, ok := w.index[key]; ok {
		w.pending[i].req = req
		return
	}
	w.index[key] = len(w.pending)
	w.pending = append(w.pending, pendingWrite{key: key, req: req})
}

func (w *batchWriter) flush(ctx context.Context) error {
	s := w.sink
	n := min(len(w.pending), s.batchSize)
	batch := w.pending[:n]
	rest := w.pending[n:]

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return &etl.SinkError{Sink: Name, Op: "pace", Err: err}
		}
	}

	reqs := make([]types.WriteRequest, 0, n)
	for _, p := range batch {
		reqs = append(reqs, p.req)
	}
	out, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
		RequestItems: map[string][]types.WriteRequest{s.table: reqs},
	})
	if err != nil {
		return &etl.SinkError{Sink: Name, Op: "batch write", Err: err}
	}
	w.batches++

	var unprocessed []types.WriteRequest
	if out != nil {
		unprocessed = out.UnprocessedItems[s.table]
	}
	if len(unprocessed) >= n {
		return &etl.SinkError{Sink: Name, Op: "batch write", Err: fmt.Errorf("%w: %d items unprocessed", ErrNoProgress, n)}
	}
	if len(unprocessed) > 0 {
		s.logger.Debug("carrying unprocessed items", zap.Int("count", len(unprocessed)))
	}

	// Unprocessed items go first; a newer queued request for the same key wins.
	next := make([]pendingWrite, 0, len(unprocessed)+len(rest))
	queued := make(map[string]struct{}, len(rest))
	for _, p := range rest {
		queued[p.key] = struct{}{}
	}
	for _, req := range unprocessed {
		key := requestKey(req)
		if _, ok := queued[key]; ok {
			continue
		}
		queued[key] = struct{}{}
		next = append(next, pendingWrite{key: key, req: req})
	}
	next = append(next, rest...)

	w.pending = next
	w.index = make(map[string]int, len(next))
	for i, p := range next {
		w.index[p.key] = i
	}
	return nil
}

func requestKey(req types.WriteRequest) string {
	if req.PutRequest == nil {
		return ""
	}
	return stringAttr(req.PutRequest.Item, "program") + "|" + stringAttr(req.PutRequest.Item, "date")
}

func stringAttr(item map[string]types.AttributeValue, name string) string {
	if v, ok := item[name].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}
