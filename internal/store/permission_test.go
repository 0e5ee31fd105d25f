package store

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterNodeUpserts(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := OpenForTesting(db)

	mock.ExpectExec("INSERT INTO permission_nodes").
		WithArgs("memory.recall", "core", "recall memories", false).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = s.RegisterNode(context.Background(), PermissionNode{
		NodeName: "memory.recall", Plugin: "core", Description: "recall memories", DefaultGrant: false,
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGrantRequiresRegisteredNode(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := OpenForTesting(db)

	mock.ExpectQuery("SELECT node_name, plugin, description, default_grant FROM permission_nodes").
		WithArgs("unknown.node").
		WillReturnError(sql.ErrNoRows)

	err = s.Grant(context.Background(), "qq", "u1", "unknown.node")
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestCheckReturnsTrueOnDefaultGrant(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := OpenForTesting(db)

	rows := sqlmock.NewRows([]string{"node_name", "plugin", "description", "default_grant"}).
		AddRow("memory.recall", "core", "", true)
	mock.ExpectQuery("SELECT node_name, plugin, description, default_grant FROM permission_nodes").
		WithArgs("memory.recall").
		WillReturnRows(rows)

	allowed, err := s.Check(context.Background(), "qq", "u1", "memory.recall")
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckQueriesExplicitGrantWhenNotDefault(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := OpenForTesting(db)

	nodeRows := sqlmock.NewRows([]string{"node_name", "plugin", "description", "default_grant"}).
		AddRow("admin.shutdown", "core", "", false)
	mock.ExpectQuery("SELECT node_name, plugin, description, default_grant FROM permission_nodes").
		WithArgs("admin.shutdown").
		WillReturnRows(nodeRows)

	existsRows := sqlmock.NewRows([]string{"exists"}).AddRow(true)
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("qq", "u1", "admin.shutdown").
		WillReturnRows(existsRows)

	allowed, err := s.Check(context.Background(), "qq", "u1", "admin.shutdown")
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.NoError(t, mock.ExpectationsWereMet())
}
