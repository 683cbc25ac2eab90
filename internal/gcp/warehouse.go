package gcp

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/smallbiznis/cloudcost/internal/docstore"
	"github.com/smallbiznis/cloudcost/internal/pipeline"
	"github.com/smallbiznis/cloudcost/internal/retry"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
)

// Warehouse runs BigQuery queries and owns destination tables.
type Warehouse struct {
	client   *bigquery.Client
	location string
	policy   retry.Policy
}

func NewWarehouse(ctx context.Context, projectID, location string, policy retry.Policy) (*Warehouse, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("bigquery client: %w", err)
	}
	if location != "" {
		client.Location = location
	}
	return &Warehouse{client: client, location: location, policy: policy}, nil
}

func (w *Warehouse) Project() string { return w.client.Project() }

func (w *Warehouse) Close() error { return w.client.Close() }

// Query starts sql and streams its rows decoded into T, a struct or
// map[string]bigquery.Value. Starting the job is retried; a failed row read
// ends the sequence.
func Query[T any](ctx context.Context, w *Warehouse, op, sql string, params ...bigquery.QueryParameter) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		q := w.client.Query(sql)
		q.Parameters = params

		var it *bigquery.RowIterator
		attempts, err := w.policy.Do(ctx, func(ctx context.Context) error {
			var err error
			it, err = q.Read(ctx)
			return err
		})
		if err != nil {
			yield(zero, pipeline.RemoteError(op, attempts, err))
			return
		}
		for {
			var row T
			err := it.Next(&row)
			if errors.Is(err, iterator.Done) {
				return
			}
			if err != nil {
				yield(zero, pipeline.RemoteError(op, 1, err))
				return
			}
			if !yield(row, nil) {
				return
			}
		}
	}
}

// TableExists reports whether dataset.table exists in the client project.
func (w *Warehouse) TableExists(ctx context.Context, dataset, table string) (bool, error) {
	_, err := w.client.Dataset(dataset).Table(table).Metadata(ctx)
	if err == nil {
		return true, nil
	}
	if IsNotFound(err) {
		return false, nil
	}
	return false, err
}

// EnsureTable creates the dataset and a day-partitioned table when missing.
func (w *Warehouse) EnsureTable(ctx context.Context, dataset, table string, schema bigquery.Schema, partitionField string) (*bigquery.Table, error) {
	ds := w.client.Dataset(dataset)
	if _, err := ds.Metadata(ctx); err != nil {
		if !IsNotFound(err) {
			return nil, err
		}
		if err := ds.Create(ctx, &bigquery.DatasetMetadata{Location: w.location}); err != nil && !isAlreadyExists(err) {
			return nil, fmt.Errorf("create dataset %s: %w", dataset, err)
		}
	}

	t := ds.Table(table)
	if _, err := t.Metadata(ctx); err != nil {
		if !IsNotFound(err) {
			return nil, err
		}
		md := &bigquery.TableMetadata{Schema: schema}
		if partitionField != "" {
			md.TimePartitioning = &bigquery.TimePartitioning{Field: partitionField, Type: bigquery.DayPartitioningType}
		}
		if err := t.Create(ctx, md); err != nil && !isAlreadyExists(err) {
			return nil, fmt.Errorf("create table %s.%s: %w", dataset, table, err)
		}
	}
	return t, nil
}

// TableSink streams writes into a table. The document id becomes the insert
// id so replays within BigQuery's dedup window do not duplicate rows.
type TableSink struct {
	table *bigquery.Table
}

func NewTableSink(table *bigquery.Table) *TableSink {
	return &TableSink{table: table}
}

func (s *TableSink) Commit(ctx context.Context, writes []docstore.Write) error {
	rows := make([]*tableRow, 0, len(writes))
	for _, w := range writes {
		if w.Delete {
			return fmt.Errorf("table sink: delete of %s is not supported", w.DocumentID)
		}
		rows = append(rows, &tableRow{insertID: w.DocumentID, data: w.Data})
	}
	if err := s.table.Inserter().Put(ctx, rows); err != nil {
		var multi bigquery.PutMultiError
		if errors.As(err, &multi) {
			return fmt.Errorf("insert %d rows: %d rejected: %v", len(rows), len(multi), multi[0].Error())
		}
		return err
	}
	return nil
}

type tableRow struct {
	insertID string
	data     map[string]any
}

func (r *tableRow) Save() (map[string]bigquery.Value, string, error) {
	out := make(map[string]bigquery.Value, len(r.data))
	for k, v := range r.data {
		if t, ok := v.(time.Time); ok {
			out[k] = t.UTC()
			continue
		}
		out[k] = v
	}
	return out, r.insertID, nil
}

// IsNotFound reports a 404 from a Google REST API.
func IsNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}

func isAlreadyExists(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusConflict
}
