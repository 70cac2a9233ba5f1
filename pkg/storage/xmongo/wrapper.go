package xmongo

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/omeyang/mongolock/internal/storageopt"
	"github.com/omeyang/mongolock/pkg/observability/xmetrics"
)

const mongoComponent = "xmongo"

type mongoWrapper struct {
	client    *mongo.Client
	clientOps clientOperations
	options   *Options

	slowQueries *storageopt.SlowQueryDetector[SlowQueryInfo]
	health      storageopt.HealthCounter

	closed atomic.Bool
}

func (w *mongoWrapper) Client() *mongo.Client {
	return w.client
}

func (w *mongoWrapper) Health(ctx context.Context) (err error) {
	if ctx == nil {
		return ErrNilContext
	}
	if w.closed.Load() {
		return ErrClosed
	}

	ctx, span := xmetrics.Start(ctx, w.options.Observer, xmetrics.SpanOptions{
		Component: mongoComponent,
		Operation: "health",
		Kind:      xmetrics.KindClient,
		Attrs:     []xmetrics.Attr{xmetrics.String("db.system", "mongodb")},
	})
	defer func() { span.End(xmetrics.Result{Err: err}) }()

	ctx, cancel := storageopt.HealthContext(ctx, w.options.HealthTimeout)
	defer cancel()

	err = w.clientOps.Ping(ctx, readpref.Primary())
	w.health.Observe(err)
	if err != nil {
		return fmt.Errorf("xmongo health: %w", err)
	}
	return nil
}

func (w *mongoWrapper) Stats() Stats {
	s := Stats{
		PingCount:   w.health.PingCount(),
		PingErrors:  w.health.PingErrors(),
		SlowQueries: w.slowQueries.Count(),
	}
	if w.clientOps != nil {
		s.SessionsInProgress = w.clientOps.NumberSessionsInProgress()
	}
	return s
}

// Close Disconnect 失败不回滚 closed 状态。
func (w *mongoWrapper) Close(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if !w.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	if err := w.clientOps.Disconnect(ctx); err != nil {
		return fmt.Errorf("xmongo close: %w", err)
	}
	return nil
}

func (w *mongoWrapper) FindPage(ctx context.Context, coll *mongo.Collection, filter any, opts PageOptions) (*PageResult, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if w.closed.Load() {
		return nil, ErrClosed
	}
	if coll == nil {
		return nil, ErrNilCollection
	}
	return w.findPage(ctx, collectionAdapter{coll}, filter, opts)
}

func convertPaginationError(err error) error {
	switch {
	case errors.Is(err, storageopt.ErrInvalidPage):
		return ErrInvalidPage
	case errors.Is(err, storageopt.ErrInvalidPageSize):
		return ErrInvalidPageSize
	case errors.Is(err, storageopt.ErrPageOverflow):
		return ErrPageOverflow
	default:
		return err
	}
}

func (w *mongoWrapper) findPage(ctx context.Context, coll collectionOperations, filter any, opts PageOptions) (result *PageResult, err error) {
	skip, err := storageopt.ValidatePagination(opts.Page, opts.PageSize)
	if err != nil {
		return nil, convertPaginationError(err)
	}
	if opts.PageSize > MaxPageSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrPageSizeTooLarge, opts.PageSize, MaxPageSize)
	}
	if filter == nil {
		filter = bson.D{}
	}

	ctx, cancel := storageopt.FallbackTimeout(ctx, w.options.QueryTimeout)
	defer cancel()

	dbName, collName := coll.names()
	info := SlowQueryInfo{Database: dbName, Collection: collName, Operation: "find_page", Filter: filter}

	start := time.Now()
	ctx, span := xmetrics.Start(ctx, w.options.Observer, xmetrics.SpanOptions{
		Component: mongoComponent,
		Operation: "find_page",
		Kind:      xmetrics.KindClient,
		Attrs: []xmetrics.Attr{
			xmetrics.String("db.system", "mongodb"),
			xmetrics.String("db.name", dbName),
			xmetrics.String("db.collection", collName),
		},
	})
	defer func() {
		info.Duration = time.Since(start)
		var attrs []xmetrics.Attr
		if w.slowQueries.MaybeSlowQuery(ctx, info, info.Duration) {
			attrs = append(attrs, xmetrics.Bool("slow", true))
		}
		span.End(xmetrics.Result{Err: err, Attrs: attrs})
	}()

	total, err := coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("xmongo find_page count %s.%s: %w", dbName, collName, err)
	}

	cursor, err := coll.Find(ctx, filter, buildFindOptions(skip, opts))
	if err != nil {
		return nil, fmt.Errorf("xmongo find_page find %s.%s: %w", dbName, collName, err)
	}
	defer func() {
		if closeErr := cursor.Close(ctx); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("xmongo find_page close cursor: %w", closeErr))
		}
	}()

	data := make([]bson.Raw, 0, opts.PageSize)
	for cursor.Next(ctx) {
		// cursor.Current 在下一次 Next 时复用底层缓冲
		data = append(data, append(bson.Raw(nil), cursor.Current...))
	}
	if err = cursor.Err(); err != nil {
		return nil, fmt.Errorf("xmongo find_page decode %s.%s: %w", dbName, collName, err)
	}

	return &PageResult{
		Data:       data,
		Total:      total,
		Page:       opts.Page,
		PageSize:   opts.PageSize,
		TotalPages: storageopt.CalculateTotalPages(total, opts.PageSize),
	}, nil
}

func buildFindOptions(skip int64, opts PageOptions) *options.FindOptionsBuilder {
	findOpts := options.Find().SetSkip(skip).SetLimit(opts.PageSize)
	if len(opts.Sort) > 0 {
		findOpts.SetSort(opts.Sort)
	}
	if len(opts.Projection) > 0 {
		findOpts.SetProjection(opts.Projection)
	}
	return findOpts
}
