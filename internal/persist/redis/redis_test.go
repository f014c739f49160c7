// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package redis_test

import (
	"context"
	"errors"
	"testing"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatehouse/gatehouse/internal/persist"
	enginepkg "github.com/gatehouse/gatehouse/internal/persist/redis"
	"github.com/gatehouse/gatehouse/pkg/errutil"
)

func TestEngine_Load(t *testing.T) {
	client, mock := redismock.NewClientMock()
	eng := enginepkg.NewWithClient(client)

	mock.ExpectGet("gatehouse:root").SetVal(`{"v":1}`)

	got, err := eng.Load(context.Background(), "gatehouse:root")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"v":1}`), got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEngine_LoadMissing(t *testing.T) {
	client, mock := redismock.NewClientMock()
	eng := enginepkg.NewWithClient(client)

	mock.ExpectGet("gatehouse:root").RedisNil()

	_, err := eng.Load(context.Background(), "gatehouse:root")
	require.Error(t, err)
	assert.True(t, errors.Is(err, persist.ErrNotFound))
	errutil.AssertErrorCode(t, err, "STATE_NOT_FOUND")
}

func TestEngine_LoadServerError(t *testing.T) {
	client, mock := redismock.NewClientMock()
	eng := enginepkg.NewWithClient(client)

	mock.ExpectGet("gatehouse:root").SetErr(errors.New("connection reset"))

	_, err := eng.Load(context.Background(), "gatehouse:root")
	require.Error(t, err)
	assert.False(t, errors.Is(err, persist.ErrNotFound))
	errutil.AssertErrorCode(t, err, "STATE_LOAD_FAILED")
}

func TestEngine_Store(t *testing.T) {
	client, mock := redismock.NewClientMock()
	eng := enginepkg.NewWithClient(client)

	mock.ExpectSet("gatehouse:root", []byte(`{"v":1}`), 0).SetVal("OK")

	require.NoError(t, eng.Store(context.Background(), "gatehouse:root", []byte(`{"v":1}`)))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEngine_StoreError(t *testing.T) {
	client, mock := redismock.NewClientMock()
	eng := enginepkg.NewWithClient(client)

	mock.ExpectSet("gatehouse:root", []byte(`{}`), 0).SetErr(errors.New("readonly replica"))

	err := eng.Store(context.Background(), "gatehouse:root", []byte(`{}`))
	errutil.AssertErrorCode(t, err, "STATE_STORE_FAILED")
}

func TestEngine_Delete(t *testing.T) {
	client, mock := redismock.NewClientMock()
	eng := enginepkg.NewWithClient(client)

	mock.ExpectDel("gatehouse:root").SetVal(1)

	require.NoError(t, eng.Delete(context.Background(), "gatehouse:root"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEngine_DeleteMissingIsNoop(t *testing.T) {
	client, mock := redismock.NewClientMock()
	eng := enginepkg.NewWithClient(client)

	// DEL of an absent key returns 0 deletions, not an error.
	mock.ExpectDel("gatehouse:root").SetVal(0)

	assert.NoError(t, eng.Delete(context.Background(), "gatehouse:root"))
}

func TestEngine_Ping(t *testing.T) {
	client, mock := redismock.NewClientMock()
	eng := enginepkg.NewWithClient(client)

	mock.ExpectPing().SetVal("PONG")

	assert.NoError(t, eng.Ping(context.Background()))
}

func TestEngine_PingFailure(t *testing.T) {
	client, mock := redismock.NewClientMock()
	eng := enginepkg.NewWithClient(client)

	mock.ExpectPing().SetErr(errors.New("connection refused"))

	err := eng.Ping(context.Background())
	errutil.AssertErrorCode(t, err, "STATE_PING_FAILED")
}

func TestEngine_Name(t *testing.T) {
	client, _ := redismock.NewClientMock()
	assert.Equal(t, "redis", enginepkg.NewWithClient(client).Name())
}
