package store

import (
	"context"
	"database/sql"

	"github.com/georgysavva/scany/v2/sqlscan"
)

func NewAPIKeySQLiteStore(rdb, rwdb *sql.DB) *APIKeySQLiteStore {
	return &APIKeySQLiteStore{rdb, rwdb}
}

type APIKeySQLiteStore struct {
	rdb, rwdb *sql.DB
}

func (store *APIKeySQLiteStore) CreateAPIKey(ctx context.Context, value string) (*APIKey, error) {
	key := &APIKey{Value: value}
	query := `insert into api_keys (value) values ($1) returning id, created_on`
	if err := sqlscan.Get(ctx, store.rwdb, key, query, value); err != nil {
		return nil, err
	}
	return key, nil
}

func (store *APIKeySQLiteStore) ReadAPIKeyByValue(
	ctx context.Context,
	value string,
) (*APIKey, error) {
	key := new(APIKey)
	query := `select * from api_keys where value = $1`
	if err := sqlscan.Get(ctx, store.rdb, key, query, value); err != nil {
		return nil, err
	}
	return key, nil
}

func (store *APIKeySQLiteStore) DeleteAPIKey(ctx context.Context, id int64) error {
	query := `delete from api_keys where id = $1`
	res, err := store.rwdb.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (store *APIKeySQLiteStore) ListAPIKeys(ctx context.Context) ([]*APIKey, error) {
	query := `select * from api_keys order by id`
	keys := make([]*APIKey, 0)
	err := sqlscan.Select(ctx, store.rdb, &keys, query)
	return keys, err
}

func (store *APIKeySQLiteStore) CountAPIKeys(ctx context.Context) (int64, error) {
	var count int64
	query := `select count(*) from api_keys`
	err := sqlscan.Get(ctx, store.rdb, &count, query)
	return count, err
}
