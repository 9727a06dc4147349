package datasets

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"tsflow/api/pkg/clients/blob"
	"tsflow/api/services/storage"
)

const csvContentType = "text/csv"

// ErrInvalidDataset wraps parse failures of uploaded content.
var ErrInvalidDataset = errors.New("invalid dataset")

// outputNamespace seeds the name-based UUIDs of node outputs.
var outputNamespace = uuid.MustParse("6f1c1f5e-5a0b-4c2e-9d43-0e6a1b7f2c11")

// Metadata is the subset of storage.Storage the store needs.
type Metadata interface {
	UpsertDataset(ctx context.Context, d *storage.Dataset) error
	GetDataset(ctx context.Context, id uuid.UUID) (*storage.Dataset, error)
	ListDatasets(ctx context.Context) ([]storage.Dataset, error)
	DeleteDataset(ctx context.Context, id uuid.UUID) error
}

// Store keeps dataset payloads as CSV objects in blob storage and their
// metadata rows in the database.
type Store struct {
	blobs  blob.Client
	meta   Metadata
	logger *slog.Logger
}

func NewStore(blobs blob.Client, meta Metadata, logger *slog.Logger) (*Store, error) {
	if blobs == nil {
		return nil, errors.New("datasets: blob client cannot be nil")
	}
	if meta == nil {
		return nil, errors.New("datasets: metadata store cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{blobs: blobs, meta: meta, logger: logger}, nil
}

func objectKey(id uuid.UUID) string {
	return "datasets/" + id.String() + ".csv"
}

// OutputID derives the reference of a node output from the node and the
// encoded content, so an unchanged rerun produces the same reference.
func OutputID(nodeID uuid.UUID, encoded []byte) uuid.UUID {
	sum := sha256.Sum256(encoded)
	return uuid.NewSHA1(outputNamespace, []byte(nodeID.String()+":"+hex.EncodeToString(sum[:])))
}

func encode(f *Frame) ([]byte, error) {
	var buf bytes.Buffer
	if err := f.WriteCSV(&buf); err != nil {
		return nil, fmt.Errorf("encode csv: %w", err)
	}
	return buf.Bytes(), nil
}

func applyStats(d *storage.Dataset, f *Frame) {
	st := f.Stats()
	d.Kind = string(f.Kind)
	d.RowCount = st.RowCount
	d.ChannelCount = st.ChannelCount
	d.SampleRate = st.SampleRate
	d.StartTime = st.Start
	d.EndTime = st.End
}

// Import parses an uploaded CSV and stores it as a new dataset.
func (s *Store) Import(ctx context.Context, name string, description *string, r io.Reader) (*storage.Dataset, error) {
	f, err := ReadCSV(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDataset, err)
	}
	if f.Len() == 0 {
		return nil, fmt.Errorf("%w: csv has no data rows", ErrInvalidDataset)
	}
	data, err := encode(f)
	if err != nil {
		return nil, err
	}

	d := &storage.Dataset{ID: uuid.New(), Name: name, Description: description}
	d.ObjectKey = objectKey(d.ID)
	applyStats(d, f)

	if err := s.blobs.Put(ctx, d.ObjectKey, data, csvContentType); err != nil {
		return nil, fmt.Errorf("put %s: %w", d.ObjectKey, err)
	}
	if err := s.meta.UpsertDataset(ctx, d); err != nil {
		if delErr := s.blobs.Delete(ctx, d.ObjectKey); delErr != nil && !errors.Is(delErr, blob.ErrNotFound) {
			s.logger.Warn("orphaned dataset object", "key", d.ObjectKey, "error", delErr)
		}
		return nil, fmt.Errorf("save dataset metadata: %w", err)
	}
	s.logger.Info("dataset imported", "id", d.ID, "rows", d.RowCount, "channels", d.ChannelCount)
	return d, nil
}

// SaveOutput stores the output of a node and returns its dataset ID.
func (s *Store) SaveOutput(ctx context.Context, nodeID uuid.UUID, name string, f *Frame) (uuid.UUID, error) {
	data, err := encode(f)
	if err != nil {
		return uuid.Nil, err
	}

	src := nodeID
	d := &storage.Dataset{ID: OutputID(nodeID, data), Name: name, SourceNodeID: &src}
	d.ObjectKey = objectKey(d.ID)
	applyStats(d, f)

	if err := s.blobs.Put(ctx, d.ObjectKey, data, csvContentType); err != nil {
		return uuid.Nil, fmt.Errorf("put %s: %w", d.ObjectKey, err)
	}
	if err := s.meta.UpsertDataset(ctx, d); err != nil {
		return uuid.Nil, fmt.Errorf("save dataset metadata: %w", err)
	}
	return d.ID, nil
}

// Get returns the metadata row of a dataset.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*storage.Dataset, error) {
	return s.meta.GetDataset(ctx, id)
}

// List returns uploaded datasets.
func (s *Store) List(ctx context.Context) ([]storage.Dataset, error) {
	return s.meta.ListDatasets(ctx)
}

// Load reads a dataset's payload into memory.
func (s *Store) Load(ctx context.Context, id uuid.UUID) (*Frame, error) {
	d, err := s.meta.GetDataset(ctx, id)
	if err != nil {
		return nil, err
	}
	data, err := s.blobs.Get(ctx, d.ObjectKey)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", d.ObjectKey, err)
	}
	f, err := ReadCSV(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", d.ObjectKey, err)
	}
	return f, nil
}

// Delete removes the metadata row, then the object. A missing object is
// not an error.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	d, err := s.meta.GetDataset(ctx, id)
	if err != nil {
		return err
	}
	if err := s.meta.DeleteDataset(ctx, id); err != nil {
		return err
	}
	if err := s.blobs.Delete(ctx, d.ObjectKey); err != nil && !errors.Is(err, blob.ErrNotFound) {
		return fmt.Errorf("delete %s: %w", d.ObjectKey, err)
	}
	return nil
}
