package storage

import (
	"context"

	"github.com/google/uuid"
)

const datasetColumns = `id, name, description, object_key, kind, row_count, channel_count,
       sample_rate, start_time, end_time, source_node_id, created_at`

func scanDataset(s scanner, d *Dataset) error {
	return s.Scan(
		&d.ID, &d.Name, &d.Description, &d.ObjectKey, &d.Kind, &d.RowCount, &d.ChannelCount,
		&d.SampleRate, &d.StartTime, &d.EndTime, &d.SourceNodeID, &d.CreatedAt,
	)
}

// UpsertDataset inserts the dataset row or refreshes an existing one with
// the same ID. Re-storing an identical node output is a no-op apart from the
// statistics being rewritten.
func (r *PgStorage) UpsertDataset(ctx context.Context, d *Dataset) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	err := r.DB.QueryRow(ctx, `
        INSERT INTO datasets (id, name, description, object_key, kind, row_count, channel_count,
                              sample_rate, start_time, end_time, source_node_id)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        ON CONFLICT (id) DO UPDATE
        SET name = EXCLUDED.name,
            description = EXCLUDED.description,
            object_key = EXCLUDED.object_key,
            kind = EXCLUDED.kind,
            row_count = EXCLUDED.row_count,
            channel_count = EXCLUDED.channel_count,
            sample_rate = EXCLUDED.sample_rate,
            start_time = EXCLUDED.start_time,
            end_time = EXCLUDED.end_time,
            source_node_id = EXCLUDED.source_node_id
        RETURNING created_at`,
		d.ID, d.Name, d.Description, d.ObjectKey, d.Kind, d.RowCount, d.ChannelCount,
		d.SampleRate, d.StartTime, d.EndTime, d.SourceNodeID,
	).Scan(&d.CreatedAt)
	return mapWriteErr(err)
}

func (r *PgStorage) GetDataset(ctx context.Context, id uuid.UUID) (*Dataset, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var d Dataset
	if err := scanDataset(r.DB.QueryRow(ctx, `SELECT `+datasetColumns+` FROM datasets WHERE id = $1`, id), &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// ListDatasets returns uploaded datasets, newest first. Node outputs are
// excluded; they are reached through their node.
func (r *PgStorage) ListDatasets(ctx context.Context) ([]Dataset, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := r.DB.Query(ctx, `
        SELECT `+datasetColumns+`
        FROM datasets
        WHERE source_node_id IS NULL
        ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Dataset{}
	for rows.Next() {
		var d Dataset
		if err := scanDataset(rows, &d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// DeleteDataset removes the metadata row. Nodes that referenced it as input
// keep running into a missing input rather than a dangling key.
func (r *PgStorage) DeleteDataset(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	return r.execOne(ctx, `DELETE FROM datasets WHERE id = $1`, id)
}
