//go:build integration

package commit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"osmcore.dev/changeset"
	"osmcore.dev/elementlog"
	"osmcore.dev/geom"
	"osmcore.dev/idcodec"
	"osmcore.dev/store/storebolt"
)

// setupPostgresContainer starts a disposable PostgreSQL container for the
// changeset package's GORM connection.
func setupPostgresContainer(t *testing.T) (string, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "testuser",
			"POSTGRES_PASSWORD": "testpass",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "failed to start PostgreSQL container")

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("host=%s port=%s user=testuser password=testpass dbname=testdb sslmode=disable", host, port.Port())
	cleanup := func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}
	return dsn, cleanup
}

func TestPipeline_CreateNodeThenWay(t *testing.T) {
	dsn, cleanup := setupPostgresContainer(t)
	defer cleanup()

	db, err := changeset.Open(dsn)
	require.NoError(t, err)
	require.NoError(t, changeset.Migrate(db))

	st, err := storebolt.Open(t.TempDir() + "/pipeline.db")
	require.NoError(t, err)
	defer st.Close()

	mgr := changeset.New(db, changeset.Options{MaxChangesetSize: 100, IdleTimeout: time.Hour, MaxLifetime: 24 * time.Hour})
	ctx := context.Background()
	csID, err := mgr.OpenChangeset(ctx, nil, map[string]string{"created_by": "test"}, "test-suite")
	require.NoError(t, err)

	log := logrus.NewEntry(logrus.New())
	pipeline := New(st, db, mgr, nil, Config{ReferencePolicy: ReferencePolicyStrict}, log)

	result, err := pipeline.Apply(ctx, csID, []Mutation{
		{Kind: MutationCreate, ElementKind: idcodec.KindNode, Body: elementlog.Body{Kind: elementlog.BodyKindNode, Point: geom.Point{Lon: 10, Lat: 20}}},
	})
	require.NoError(t, err)
	require.Len(t, result.TypedIds, 1)
	nodeID := result.TypedIds[0]

	result2, err := pipeline.Apply(ctx, csID, []Mutation{
		{Kind: MutationCreate, ElementKind: idcodec.KindWay, Body: elementlog.Body{Kind: elementlog.BodyKindWay, Refs: []idcodec.TypedId{nodeID}}},
	})
	require.NoError(t, err)
	require.Len(t, result2.TypedIds, 1)

	cs, err := mgr.Get(ctx, csID)
	require.NoError(t, err)
	require.Equal(t, 2, cs.Size)
	require.Equal(t, 2, cs.CountCreate)
}

func TestPipeline_VersionConflictRejected(t *testing.T) {
	dsn, cleanup := setupPostgresContainer(t)
	defer cleanup()

	db, err := changeset.Open(dsn)
	require.NoError(t, err)
	require.NoError(t, changeset.Migrate(db))

	st, err := storebolt.Open(t.TempDir() + "/pipeline2.db")
	require.NoError(t, err)
	defer st.Close()

	mgr := changeset.New(db, changeset.Options{MaxChangesetSize: 100, IdleTimeout: time.Hour, MaxLifetime: 24 * time.Hour})
	ctx := context.Background()
	csID, err := mgr.OpenChangeset(ctx, nil, nil, "")
	require.NoError(t, err)

	log := logrus.NewEntry(logrus.New())
	pipeline := New(st, db, mgr, nil, Config{ReferencePolicy: ReferencePolicyStrict}, log)

	result, err := pipeline.Apply(ctx, csID, []Mutation{
		{Kind: MutationCreate, ElementKind: idcodec.KindNode, Body: elementlog.Body{Kind: elementlog.BodyKindNode, Point: geom.Point{Lon: 1, Lat: 1}}},
	})
	require.NoError(t, err)
	nodeID := result.TypedIds[0]

	_, err = pipeline.Apply(ctx, csID, []Mutation{
		{Kind: MutationModify, TypedId: nodeID, BaseVersion: 99, Body: elementlog.Body{Kind: elementlog.BodyKindNode, Point: geom.Point{Lon: 2, Lat: 2}}},
	})
	require.Error(t, err)
}
