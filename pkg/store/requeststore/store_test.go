package requeststore

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/jeremyhahn/go-trusted-relay/pkg/logging"
	"github.com/jeremyhahn/go-trusted-relay/pkg/request"
	"github.com/jeremyhahn/go-trusted-relay/pkg/serializer"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, fs afero.Fs, serializerType serializer.SerializerType) *Store {
	s, err := serializer.NewSerializer[*request.Record](serializerType)
	require.Nil(t, err)
	store, err := New(&Params{
		Fs:             fs,
		Logger:         logging.NewLogger(slog.LevelInfo, nil),
		ReadBufferSize: 2,
		RootDir:        "./test/",
		Serializer:     s,
	})
	require.Nil(t, err)
	return store
}

func TestStore(t *testing.T) {

	serializers := []serializer.SerializerType{
		serializer.SERIALIZER_JSON,
		serializer.SERIALIZER_YAML,
	}

	for _, serializerType := range serializers {
		t.Run(serializerType.String(), func(t *testing.T) {

			ctx := context.Background()
			fs := afero.NewMemMapFs()
			store := newTestStore(t, fs, serializerType)

			r, err := store.CreateRequest(ctx, request.TypeEnrollment)
			require.Nil(t, err)
			assert.Equal(t, request.ID("1"), r.ID())

			_, err = fs.Stat("./test/requests/1" + "." + serializerType.String())
			assert.Nil(t, err)

			r.SetStatus(request.StatusSvcPending)
			r.SetAttribute(request.AttrRemoteRequestID, request.String("99"))
			require.Nil(t, store.UpdateRequest(ctx, r))
			require.Nil(t, store.ReleaseRequest(ctx, r))

			// A fresh store over the same filesystem reads the record back
			reopened := newTestStore(t, fs, serializerType)
			persisted, err := reopened.FindRequest(ctx, "1")
			require.Nil(t, err)
			assert.Equal(t, request.StatusSvcPending, persisted.Status())
			assert.Equal(t, "99", persisted.StringAttribute(request.AttrRemoteRequestID))

			next, err := reopened.CreateRequest(ctx, request.TypeRevocation)
			require.Nil(t, err)
			assert.Equal(t, request.ID("2"), next.ID())
		})
	}
}

func TestFindRequestNotFound(t *testing.T) {

	store := newTestStore(t, afero.NewMemMapFs(), serializer.SERIALIZER_JSON)

	_, err := store.FindRequest(context.Background(), "404")
	assert.True(t, errors.Is(err, request.ErrRequestNotFound))
}

func TestCheckoutSharesLiveObject(t *testing.T) {

	ctx := context.Background()
	store := newTestStore(t, afero.NewMemMapFs(), serializer.SERIALIZER_JSON)

	created, err := store.CreateRequest(ctx, request.TypeEnrollment)
	require.Nil(t, err)

	found, err := store.FindRequest(ctx, created.ID())
	require.Nil(t, err)
	assert.Same(t, created, found)

	require.Nil(t, store.ReleaseRequest(ctx, created))

	// Still held by the second checkout
	again, err := store.FindRequest(ctx, created.ID())
	require.Nil(t, err)
	assert.Same(t, created, again)

	require.Nil(t, store.ReleaseRequest(ctx, found))
	require.Nil(t, store.ReleaseRequest(ctx, again))

	// Fully released, a new object is read from storage
	fresh, err := store.FindRequest(ctx, created.ID())
	require.Nil(t, err)
	assert.NotSame(t, created, fresh)

	err = store.ReleaseRequest(ctx, created)
	assert.True(t, errors.Is(err, ErrNotCheckedOut))
}

func TestMarkAsServiced(t *testing.T) {

	ctx := context.Background()
	fs := afero.NewMemMapFs()
	store := newTestStore(t, fs, serializer.SERIALIZER_JSON)

	r, err := store.CreateRequest(ctx, request.TypeEnrollment)
	require.Nil(t, err)
	require.Nil(t, store.MarkAsServiced(ctx, r))
	require.Nil(t, store.ReleaseRequest(ctx, r))

	persisted, err := newTestStore(t, fs, serializer.SERIALIZER_JSON).FindRequest(ctx, r.ID())
	require.Nil(t, err)
	assert.True(t, persisted.Serviced())
}

func TestListRequestsByStatus(t *testing.T) {

	ctx := context.Background()
	store := newTestStore(t, afero.NewMemMapFs(), serializer.SERIALIZER_JSON)

	for i := 0; i < 5; i++ {
		r, err := store.CreateRequest(ctx, request.TypeEnrollment)
		require.Nil(t, err)
		if i%2 == 0 {
			r.SetStatus(request.StatusSvcPending)
			require.Nil(t, store.UpdateRequest(ctx, r))
		}
		// Leave the last request checked out to exercise the live path
		if i < 4 {
			require.Nil(t, store.ReleaseRequest(ctx, r))
		}
	}

	pending, err := store.ListRequestsByStatus(ctx, request.StatusSvcPending)
	require.Nil(t, err)
	assert.Len(t, pending, 3)

	count, err := store.Count()
	require.Nil(t, err)
	assert.Equal(t, 5, count)
}

func TestInvalidConfig(t *testing.T) {

	logger := logging.NewLogger(slog.LevelInfo, nil)

	_, err := NewFromConfig(logger, &Config{Backend: "LDAP", ReadBufferSize: 1})
	assert.True(t, errors.Is(err, ErrInvalidBackend))

	_, err = NewFromConfig(logger, &Config{
		Backend:    BackendAferoMemory.String(),
		Serializer: "json",
	})
	assert.Equal(t, ErrInvalidReadBufferSize, err)
}
