package file

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crs-draws-etl/internal/etl"
	"github.com/JakeFAU/crs-draws-etl/internal/storage/local"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) PutObject(ctx context.Context, path, contentType string, data io.Reader) (string, error) {
	args := m.Called(ctx, path, contentType, data)
	return args.String(0), args.Error(1)
}

func sampleDataset() etl.Dataset {
	return etl.Dataset{
		{Date: "2023-03-15", Program: "No Program Specified", Invitations: 7000, LowestCRS: 490},
		{Date: "2023-03-01", Program: "Provincial Nominee Program", Invitations: 667, LowestCRS: 748},
	}
}

func TestEncodeJSON(t *testing.T) {
	t.Parallel()

	data, err := EncodeJSON(sampleDataset())
	require.NoError(t, err)
	assert.Equal(t,
		`[{"date":"2023-03-15","program":"No Program Specified","invitations":7000,"lowest_crs":490},`+
			`{"date":"2023-03-01","program":"Provincial Nominee Program","invitations":667,"lowest_crs":748}]`,
		string(data))
}

func TestEncodeJSONEmpty(t *testing.T) {
	t.Parallel()

	data, err := EncodeJSON(nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}

func TestEncodeCSV(t *testing.T) {
	t.Parallel()

	data, err := EncodeCSV(sampleDataset())
	require.NoError(t, err)
	assert.Equal(t,
		",date,program,invitations,lowest_crs\n"+
			"0,2023-03-15,No Program Specified,7000,490\n"+
			"1,2023-03-01,Provincial Nominee Program,667,748\n",
		string(data))
}

func TestEncodeCSVQuotesCommas(t *testing.T) {
	t.Parallel()

	data, err := EncodeCSV(etl.Dataset{{Date: "2023-01-01", Program: "Trades, French", Invitations: 1, LowestCRS: 2}})
	require.NoError(t, err)
	assert.Contains(t, string(data), `0,2023-01-01,"Trades, French",1,2`)
}

func TestEncodeCSVEmpty(t *testing.T) {
	t.Parallel()

	data, err := EncodeCSV(etl.Dataset{})
	require.NoError(t, err)
	assert.Equal(t, ",date,program,invitations,lowest_crs\n", string(data))
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, "", nil)
	require.Error(t, err)

	s, err := New(&mockStore{}, "", nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultBaseName, s.baseName)
	assert.Equal(t, Name, s.Name())
}

func TestPersistWritesBothFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)
	s, err := New(store, "history", nil)
	require.NoError(t, err)

	require.NoError(t, s.Persist(context.Background(), sampleDataset()))

	jsonDoc, err := os.ReadFile(filepath.Join(dir, "history.json"))
	require.NoError(t, err)
	wantJSON, _ := EncodeJSON(sampleDataset())
	assert.Equal(t, wantJSON, jsonDoc)

	csvDoc, err := os.ReadFile(filepath.Join(dir, "history.csv"))
	require.NoError(t, err)
	wantCSV, _ := EncodeCSV(sampleDataset())
	assert.Equal(t, wantCSV, csvDoc)
	require.NoError(t, s.Close())
}

func TestPersistIsIdempotent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)
	s, err := New(store, "", nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Persist(ctx, sampleDataset()))
	first, err := os.ReadFile(filepath.Join(dir, DefaultBaseName+".csv"))
	require.NoError(t, err)

	require.NoError(t, s.Persist(ctx, sampleDataset()))
	second, err := os.ReadFile(filepath.Join(dir, DefaultBaseName+".csv"))
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestPersistReplacesEarlierExport(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)
	s, err := New(store, "h", nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Persist(ctx, sampleDataset()))
	require.NoError(t, s.Persist(ctx, etl.Dataset{}))

	jsonDoc, err := os.ReadFile(filepath.Join(dir, "h.json"))
	require.NoError(t, err)
	assert.Equal(t, "[]", string(jsonDoc))
}

func TestPersistStoreFailure(t *testing.T) {
	t.Parallel()

	store := &mockStore{}
	store.On("PutObject", mock.Anything, "h.json", "application/json", mock.Anything).
		Return("", errors.New("disk full")).Once()

	s, err := New(store, "h", nil)
	require.NoError(t, err)

	err = s.Persist(context.Background(), sampleDataset())
	require.Error(t, err)
	var sinkErr *etl.SinkError
	require.ErrorAs(t, err, &sinkErr)
	assert.Equal(t, Name, sinkErr.Sink)
	assert.Equal(t, "write h.json", sinkErr.Op)
	assert.ErrorContains(t, err, "disk full")
	store.AssertExpectations(t)
	store.AssertNumberOfCalls(t, "PutObject", 1)
}

func TestPersistCSVFailureAfterJSON(t *testing.T) {
	t.Parallel()

	store := &mockStore{}
	store.On("PutObject", mock.Anything, "h.json", "application/json", mock.Anything).
		Return("mem://h.json", nil).Once()
	store.On("PutObject", mock.Anything, "h.csv", "text/csv; charset=utf-8", mock.Anything).
		Return("", errors.New("quota")).Once()

	s, err := New(store, "h", nil)
	require.NoError(t, err)

	err = s.Persist(context.Background(), sampleDataset())
	var sinkErr *etl.SinkError
	require.ErrorAs(t, err, &sinkErr)
	assert.Equal(t, "write h.csv", sinkErr.Op)
	store.AssertExpectations(t)
}
