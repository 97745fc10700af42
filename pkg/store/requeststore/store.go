package requeststore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/jeremyhahn/go-trusted-relay/pkg/logging"
	"github.com/jeremyhahn/go-trusted-relay/pkg/request"
	"github.com/jeremyhahn/go-trusted-relay/pkg/serializer"
	"github.com/spf13/afero"
)

const partition = "requests"

var (
	ErrNotCheckedOut = errors.New("requeststore: request is not checked out")
)

type Params struct {
	Fs             afero.Fs
	Logger         *logging.Logger
	ReadBufferSize int
	RootDir        string
	Serializer     serializer.Serializer[*request.Record]
}

var _ request.Store = (*Store)(nil)

type checkout struct {
	request *request.Request
	refs    int
}

// Store is an afero backed request repository. Requests are stored one
// record per file. A request returned by FindRequest or CreateRequest is
// checked out: every concurrent FindRequest for the same ID receives the
// same live object until all holders have called ReleaseRequest.
type Store struct {
	fs             afero.Fs
	logger         *logging.Logger
	mu             sync.Mutex
	nextID         uint64
	partitionDir   string
	readBufferSize int
	serializer     serializer.Serializer[*request.Record]
	checkedOut     map[request.ID]*checkout
}

// Creates a new request store rooted at params.RootDir, creating
// the partition directory if it doesn't exist.
func New(params *Params) (*Store, error) {
	if params.ReadBufferSize <= 0 {
		return nil, ErrInvalidReadBufferSize
	}
	rootDir := strings.TrimRight(params.RootDir, "/")
	partitionDir := fmt.Sprintf("%s/%s", rootDir, partition)
	if err := params.Fs.MkdirAll(partitionDir, os.ModePerm); err != nil {
		params.Logger.Error(err, slog.String("dir", partitionDir))
		return nil, err
	}
	store := &Store{
		fs:             params.Fs,
		logger:         params.Logger,
		partitionDir:   partitionDir,
		readBufferSize: params.ReadBufferSize,
		serializer:     params.Serializer,
		checkedOut:     make(map[request.ID]*checkout),
	}
	lastID, err := store.highestID()
	if err != nil {
		return nil, err
	}
	store.nextID = lastID + 1
	return store, nil
}

// Creates a new request store using the provided configuration
func NewFromConfig(logger *logging.Logger, config *Config) (*Store, error) {
	fs, err := ParseBackend(config.Backend)
	if err != nil {
		return nil, err
	}
	serializerType, err := serializer.ParseSerializer(config.Serializer)
	if err != nil {
		return nil, err
	}
	s, err := serializer.NewSerializer[*request.Record](serializerType)
	if err != nil {
		return nil, err
	}
	return New(&Params{
		Fs:             fs,
		Logger:         logger,
		ReadBufferSize: config.ReadBufferSize,
		RootDir:        config.RootDir,
		Serializer:     s,
	})
}

// Allocates a new sequential request ID, persists a new request in the
// begin state and returns it checked out to the caller.
func (store *Store) CreateRequest(ctx context.Context, typ request.Type) (*request.Request, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	store.mu.Lock()
	defer store.mu.Unlock()

	id := request.ID(strconv.FormatUint(store.nextID, 10))
	store.nextID++

	r := request.New(id, typ)
	if err := store.write(r); err != nil {
		return nil, err
	}
	store.checkedOut[id] = &checkout{request: r, refs: 1}
	return r, nil
}

// Returns the request with the provided ID, checked out to the caller.
// Returns request.ErrRequestNotFound if the request doesn't exist.
func (store *Store) FindRequest(ctx context.Context, id request.ID) (*request.Request, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	store.mu.Lock()
	defer store.mu.Unlock()

	if co, ok := store.checkedOut[id]; ok {
		co.refs++
		return co.request, nil
	}
	r, err := store.read(store.recordFile(id))
	if err != nil {
		return nil, err
	}
	store.checkedOut[id] = &checkout{request: r, refs: 1}
	return r, nil
}

// Persists the current state of the request
func (store *Store) UpdateRequest(ctx context.Context, r *request.Request) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	return store.write(r)
}

// Flags the request as serviced and persists it
func (store *Store) MarkAsServiced(ctx context.Context, r *request.Request) error {
	r.SetServiced(true)
	return store.UpdateRequest(ctx, r)
}

// Releases the caller's checkout of the request. The live object is
// evicted once every holder has released it.
func (store *Store) ReleaseRequest(ctx context.Context, r *request.Request) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	co, ok := store.checkedOut[r.ID()]
	if !ok || co.request != r {
		return fmt.Errorf("%w: %s", ErrNotCheckedOut, r.ID())
	}
	co.refs--
	if co.refs <= 0 {
		delete(store.checkedOut, r.ID())
	}
	return nil
}

// Returns every stored request currently in the provided status. Live
// objects are returned for checked out requests; the returned requests
// are not checked out on behalf of the caller.
func (store *Store) ListRequestsByStatus(ctx context.Context, status request.Status) ([]*request.Request, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	matches := make([]*request.Request, 0)
	err := store.forEachFile(func(file string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		id := request.ID(strings.TrimSuffix(file, store.serializer.Extension()))
		if co, ok := store.checkedOut[id]; ok {
			if co.request.Status() == status {
				matches = append(matches, co.request)
			}
			return nil
		}
		r, err := store.read(fmt.Sprintf("%s/%s", store.partitionDir, file))
		if err != nil {
			return err
		}
		if r.Status() == status {
			matches = append(matches, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return matches, nil
}

// Returns the number of stored requests using a buffered read
func (store *Store) Count() (int, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	count := 0
	err := store.forEachFile(func(string) error {
		count++
		return nil
	})
	return count, err
}

func (store *Store) recordFile(id request.ID) string {
	return fmt.Sprintf("%s/%s%s", store.partitionDir, filepath.Base(id.String()), store.serializer.Extension())
}

func (store *Store) write(r *request.Request) error {
	data, err := store.serializer.Serialize(r.Record())
	if err != nil {
		return err
	}
	file := store.recordFile(r.ID())
	if err := afero.WriteFile(store.fs, file, data, 0644); err != nil {
		store.logger.Error(err, slog.String("file", file))
		return err
	}
	return nil
}

func (store *Store) read(file string) (*request.Request, error) {
	data, err := afero.ReadFile(store.fs, file)
	if err != nil {
		if os.IsNotExist(err) {
			store.logger.MaybeError(request.ErrRequestNotFound, slog.String("file", file))
			return nil, request.ErrRequestNotFound
		}
		return nil, err
	}
	record := new(request.Record)
	if err := store.serializer.Deserialize(data, record); err != nil {
		return nil, err
	}
	return request.FromRecord(record)
}

// Reads the partition directory in batches of readBufferSize,
// invoking fn with each record file name.
func (store *Store) forEachFile(fn func(file string) error) error {
	f, err := store.fs.Open(store.partitionDir)
	if err != nil {
		return err
	}
	defer f.Close()
	for {
		names, err := f.Readdirnames(store.readBufferSize)
		for _, name := range names {
			if !strings.HasSuffix(name, store.serializer.Extension()) {
				continue
			}
			if err := fn(name); err != nil {
				return err
			}
		}
		if err == io.EOF || len(names) == 0 {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (store *Store) highestID() (uint64, error) {
	var highest uint64
	err := store.forEachFile(func(file string) error {
		id, err := strconv.ParseUint(strings.TrimSuffix(file, store.serializer.Extension()), 10, 64)
		if err != nil {
			// Not a sequentially allocated ID
			return nil
		}
		if id > highest {
			highest = id
		}
		return nil
	})
	return highest, err
}
