package store

import (
	"encoding/json"
	"fmt"
)

// GetJSON reads key and decodes it into a T.
func GetJSON[T any](tx *Tx, storeName, key string) (T, error) {
	var v T
	data, err := tx.Get(storeName, key)
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("decode %s/%s: %w", storeName, key, err)
	}
	return v, nil
}

// PutJSON encodes v and stores it under key.
func PutJSON(tx *Tx, storeName, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", storeName, key, err)
	}
	return tx.Put(storeName, key, data)
}

// GetAllJSON decodes every document of an object store.
func GetAllJSON[T any](tx *Tx, storeName string) ([]T, error) {
	docs, err := tx.GetAll(storeName)
	if err != nil {
		return nil, err
	}
	return decodeAll[T](storeName, docs)
}

// QueryJSON runs an index query and decodes the matches.
func QueryJSON[T any](tx *Tx, storeName, index string, q IndexQuery) ([]T, error) {
	docs, err := tx.Query(storeName, index, q)
	if err != nil {
		return nil, err
	}
	return decodeAll[T](storeName, docs)
}

func decodeAll[T any](storeName string, docs [][]byte) ([]T, error) {
	out := make([]T, 0, len(docs))
	for i, d := range docs {
		var v T
		if err := json.Unmarshal(d, &v); err != nil {
			return nil, fmt.Errorf("decode %s[%d]: %w", storeName, i, err)
		}
		out = append(out, v)
	}
	return out, nil
}
