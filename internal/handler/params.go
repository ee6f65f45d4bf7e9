package handler

type BatchParams struct {
	BatchID int64 `param:"batch_id"`
}

type ListBatchesParams struct {
	Limit int64 `query:"limit"`
}

type RenameBatchParams struct {
	BatchID int64  `param:"batch_id" json:"-"`
	Name    string `                 json:"name"`
}

type RunParams struct {
	RunID int64 `param:"run_id"`
}

type RunEventsParams struct {
	RunID int64 `param:"run_id"`
	Since int64 `               query:"since"`
}

type RetryParams struct {
	RunID    int64  `param:"run_id" json:"-"`
	TestName string `               json:"test_name"`
}

type APIKeyParams struct {
	ID int64 `param:"id"`
}
