package check

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/loopworks/edgesync/pkg/config"
)

func validConfig() *config.Config {
	return &config.Config{
		SiteID:              "11111111-1111-1111-1111-111111111111",
		ListID:              "22222222-2222-2222-2222-222222222222",
		WatchedPath:         "/Docs/Watched",
		BatchSize:           200,
		ResyncWindowMinutes: 10,
		LedgerSchema:        "edges_raw",
		DBConnection:        "user:pass@tcp(localhost:3306)/db",
		QueueConnection:     "localhost:9092",
	}
}

func TestPreflight_HappyPath(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectPing()
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM information_schema.tables").
		WithArgs("edges_raw", "processing_log").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM information_schema.tables").
		WithArgs("edges_raw", "processed_file").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	err = Preflight(context.Background(), validConfig(), db)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPreflight_InvalidConfigFailsFast(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cfg := validConfig()
	cfg.SiteID = ""

	err = Preflight(context.Background(), cfg, db)
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPreflight_MissingLedgerTableFails(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectPing()
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM information_schema.tables").
		WithArgs("edges_raw", "processing_log").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	err = Preflight(context.Background(), validConfig(), db)
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
