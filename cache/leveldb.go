package cache

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"strconv"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDB key layout:
//
//	g:<generation>          -> creation time (unix seconds)
//	e:<generation>\x00<key> -> serialized response
const (
	generationPrefix = "g:"
	entryPrefix      = "e:"
	entrySeparator   = "\x00"
)

// LevelDBProvider stores generations in a LevelDB database on disk.
type LevelDBProvider struct {
	db *leveldb.DB
}

func NewLevelDBProvider(path string) (*LevelDBProvider, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &LevelDBProvider{db: db}, nil
}

func (l *LevelDBProvider) Close() error {
	return l.db.Close()
}

func generationKey(name string) []byte {
	return []byte(generationPrefix + name)
}

func entriesPrefix(name string) []byte {
	return []byte(entryPrefix + name + entrySeparator)
}

func entryKey(name, key string) []byte {
	return append(entriesPrefix(name), key...)
}

func (l *LevelDBProvider) Create(_ context.Context, name string) error {
	if ok, err := l.db.Has(generationKey(name), nil); err != nil || ok {
		return err
	}
	return l.db.Put(generationKey(name), []byte(strconv.FormatInt(time.Now().Unix(), 10)), nil)
}

func (l *LevelDBProvider) Names(_ context.Context) ([]string, error) {
	it := l.db.NewIterator(util.BytesPrefix([]byte(generationPrefix)), nil)
	defer it.Release()
	names := make([]string, 0)
	for it.Next() {
		names = append(names, string(bytes.TrimPrefix(it.Key(), []byte(generationPrefix))))
	}
	sort.Strings(names)
	return names, it.Error()
}

func (l *LevelDBProvider) Has(_ context.Context, name string) (bool, error) {
	return l.db.Has(generationKey(name), nil)
}

func (l *LevelDBProvider) Delete(_ context.Context, name string) (bool, error) {
	existed, err := l.db.Has(generationKey(name), nil)
	if err != nil {
		return false, err
	}
	batch := new(leveldb.Batch)
	it := l.db.NewIterator(util.BytesPrefix(entriesPrefix(name)), nil)
	for it.Next() {
		batch.Delete(append([]byte(nil), it.Key()...))
	}
	it.Release()
	if err := it.Error(); err != nil {
		return false, err
	}
	batch.Delete(generationKey(name))
	return existed, l.db.Write(batch, nil)
}

func (l *LevelDBProvider) Get(_ context.Context, name, key string) ([]byte, bool, error) {
	b, err := l.db.Get(entryKey(name, key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (l *LevelDBProvider) Put(_ context.Context, name, key string, value []byte) error {
	batch := new(leveldb.Batch)
	if ok, err := l.db.Has(generationKey(name), nil); err != nil {
		return err
	} else if !ok {
		batch.Put(generationKey(name), []byte(strconv.FormatInt(time.Now().Unix(), 10)))
	}
	batch.Put(entryKey(name, key), value)
	return l.db.Write(batch, nil)
}

func (l *LevelDBProvider) Keys(_ context.Context, name string) ([]string, error) {
	prefix := entriesPrefix(name)
	it := l.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer it.Release()
	keys := make([]string, 0)
	for it.Next() {
		keys = append(keys, string(bytes.TrimPrefix(it.Key(), prefix)))
	}
	return keys, it.Error()
}
