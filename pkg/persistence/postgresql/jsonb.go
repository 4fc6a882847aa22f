package postgresql

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// marshalJSONB encodes a value for a JSONB column; nil-ish values become SQL
// NULL so empty maps do not accumulate as '{}' rows.
func marshalJSONB(v any) (any, error) {
	switch value := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		if len(value) == 0 {
			return nil, nil
		}
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSONB value: %w", err)
	}

	return data, nil
}

// unmarshalJSONB decodes a nullable JSONB column into v, leaving v untouched
// for NULL.
func unmarshalJSONB(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal JSONB value: %w", err)
	}

	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func fromNullString(s sql.NullString) string {
	if !s.Valid {
		return ""
	}

	return s.String
}
