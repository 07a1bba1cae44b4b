package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/set-night/dealhunter/internal/domain"
)

const KindFile = "file"

// FileFetcher reads a JSON export written by an external scraper: either a
// top-level array of records or an object with a "products" array.
type FileFetcher struct{}

func NewFileFetcher() *FileFetcher { return &FileFetcher{} }

func (f *FileFetcher) Kind() string { return KindFile }

func (f *FileFetcher) Fetch(ctx context.Context, req Request) ([]domain.RawRecord, error) {
	if req.Path == "" {
		return nil, fmt.Errorf("source %s: path is empty", req.SourceName)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(req.Path)
	if err != nil {
		return nil, fmt.Errorf("read export %s: %w", req.Path, err)
	}

	records, err := decodeRecords(data)
	if err != nil {
		return nil, fmt.Errorf("decode export %s: %w", req.Path, err)
	}
	if req.Limit > 0 && len(records) > req.Limit {
		records = records[:req.Limit]
	}
	return records, nil
}

func decodeRecords(data []byte) ([]domain.RawRecord, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return []domain.RawRecord{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	if data[0] == '[' {
		var records []domain.RawRecord
		if err := dec.Decode(&records); err != nil {
			return nil, err
		}
		return records, nil
	}

	var wrapped struct {
		Products []domain.RawRecord `json:"products"`
	}
	if err := dec.Decode(&wrapped); err != nil {
		return nil, err
	}
	if wrapped.Products == nil {
		return []domain.RawRecord{}, nil
	}
	return wrapped.Products, nil
}
