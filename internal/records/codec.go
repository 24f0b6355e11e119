package records

import (
	"encoding/json"
	"fmt"

	"github.com/haeun-dev/suneung-tutor/internal/domain"
)

// emptyBlob is the serialized form of an empty collection, also used as the
// slot default when nothing has been written yet.
const emptyBlob = "[]"

// encodeRecords serializes the full collection to the single JSON blob held in
// the durable slot.
func encodeRecords(records []domain.ScoreRecord) (string, error) {
	if len(records) == 0 {
		return emptyBlob, nil
	}
	b, err := json.Marshal(records)
	if err != nil {
		return "", fmt.Errorf("encode records: %w", err)
	}
	return string(b), nil
}

// decodeRecords parses a blob back into a collection. The empty string is
// accepted as a synonym for the empty collection so an unset slot decodes
// cleanly.
func decodeRecords(blob string) ([]domain.ScoreRecord, error) {
	if blob == "" || blob == emptyBlob {
		return nil, nil
	}
	var records []domain.ScoreRecord
	if err := json.Unmarshal([]byte(blob), &records); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}
	return records, nil
}
