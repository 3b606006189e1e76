package repository

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/okian/riskpulse/internal/domain/model"
	"github.com/okian/riskpulse/pkg/logger"
)

const backendBadger = "badger"

// BadgerConfig holds configuration for the embedded Badger backend.
type BadgerConfig struct {
	// Path is the data directory. Ignored when InMemory is true.
	Path string
	// InMemory keeps everything in RAM. Used by tests and local runs.
	InMemory bool
	// SyncWrites fsyncs every commit.
	SyncWrites bool
	// GCInterval is how often value log GC runs. Zero disables it.
	GCInterval time.Duration
	// GCDiscardRatio is the minimum garbage ratio before a value log rewrite.
	GCDiscardRatio float64
	Logger         logger.Logger
}

// badgerLogger adapts logger.Logger to Badger's Logger interface.
type badgerLogger struct {
	log logger.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error(context.Background(), fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn(context.Background(), fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Debug(context.Background(), fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Debug(context.Background(), fmt.Sprintf(format, args...))
}

// OpenBadger opens the embedded store and returns the three stores on top of it.
func OpenBadger(cfg BadgerConfig) (*Stores, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("badger: path is required for a persistent store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("badger: create data directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{log: cfg.Logger.Named("badger")})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open: %w", errors.Join(ErrUnavailable, err))
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	if cfg.GCInterval > 0 && !cfg.InMemory {
		wg.Add(1)
		go runValueLogGC(db, cfg.GCInterval, cfg.GCDiscardRatio, stop, &wg)
	}

	var once sync.Once
	return &Stores{
		Backend:   backendBadger,
		Telemetry: &badgerTelemetry{c: collection{db: db, name: "t"}},
		Events:    &badgerEvents{c: collection{db: db, name: "e"}},
		Contracts: &badgerContracts{c: collection{db: db, name: "c"}},
		close: func(context.Context) error {
			var cerr error
			once.Do(func() {
				close(stop)
				wg.Wait()
				cerr = db.Close()
			})
			return cerr
		},
	}, nil
}

func runValueLogGC(db *badger.DB, interval time.Duration, ratio float64, stop <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			// ErrNoRewrite means nothing to collect
			if err := db.RunValueLogGC(ratio); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				logger.Default().Warn(context.Background(), "badger value log GC failed", logger.Error(err))
			}
		}
	}
}

// collection lays out one entity type in the key space:
//
//	<name>/<id>                          document
//	<name>k/<unique key>                 id, for entities with a uniqueness key
//	<name>v/<vehicle>\x00<ts><id>        empty, vehicle/time index
type collection struct {
	db   *badger.DB
	name string
}

type docMeta struct {
	id      string
	unique  string
	vehicle string
	ts      time.Time
}

func (c collection) primaryKey(id string) []byte { return []byte(c.name + "/" + id) }
func (c collection) uniqueKey(k string) []byte   { return []byte(c.name + "k/" + k) }

func (c collection) vehiclePrefix(vehicleID string) []byte {
	return append([]byte(c.name+"v/"+vehicleID), 0)
}

func (c collection) vehicleKey(m docMeta) []byte {
	k := c.vehiclePrefix(m.vehicle)
	k = append(k, tsBytes(m.ts)...)
	return append(k, m.id...)
}

// tsBytes encodes a timestamp so that byte order equals time order.
func tsBytes(ts time.Time) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(ts.UnixNano())^(1<<63))
	return b[:]
}

func mapBadgerErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrConflict), errors.Is(err, ErrNotFound):
		return err
	case errors.Is(err, badger.ErrConflict):
		return errors.Join(ErrConflict, err)
	case errors.Is(err, badger.ErrKeyNotFound):
		return errors.Join(ErrNotFound, err)
	case errors.Is(err, badger.ErrDBClosed):
		return errors.Join(ErrUnavailable, err)
	default:
		return err
	}
}

func absent(txn *badger.Txn, key []byte) error {
	_, err := txn.Get(key)
	switch {
	case err == nil:
		return ErrConflict
	case errors.Is(err, badger.ErrKeyNotFound):
		return nil
	default:
		return err
	}
}

// insert writes a new document and its indexes in one transaction.
// Badger tracks the reads, so two racing inserts of the same key cannot
// both commit.
func (c collection) insert(m docMeta, doc []byte) error {
	if m.id == "" {
		return ErrMissingID
	}
	err := c.db.Update(func(txn *badger.Txn) error {
		if err := absent(txn, c.primaryKey(m.id)); err != nil {
			return err
		}
		if m.unique != "" {
			if err := absent(txn, c.uniqueKey(m.unique)); err != nil {
				return err
			}
			if err := txn.Set(c.uniqueKey(m.unique), []byte(m.id)); err != nil {
				return err
			}
		}
		if err := txn.Set(c.primaryKey(m.id), doc); err != nil {
			return err
		}
		return txn.Set(c.vehicleKey(m), nil)
	})
	return mapBadgerErr(err)
}

// replace overwrites an existing document, moving its vehicle index entry.
func (c collection) replace(old, m docMeta, doc []byte) error {
	err := c.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(c.primaryKey(m.id)); err != nil {
			return err
		}
		if err := txn.Delete(c.vehicleKey(old)); err != nil {
			return err
		}
		if err := txn.Set(c.primaryKey(m.id), doc); err != nil {
			return err
		}
		return txn.Set(c.vehicleKey(m), nil)
	})
	return mapBadgerErr(err)
}

func (c collection) get(id string) ([]byte, error) {
	var doc []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(c.primaryKey(id))
		if err != nil {
			return err
		}
		doc, err = item.ValueCopy(nil)
		return err
	})
	return doc, mapBadgerErr(err)
}

func (c collection) lookup(unique string) ([]byte, error) {
	var doc []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(c.uniqueKey(unique))
		if err != nil {
			return err
		}
		id, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		item, err = txn.Get(c.primaryKey(string(id)))
		if err != nil {
			return err
		}
		doc, err = item.ValueCopy(nil)
		return err
	})
	return doc, mapBadgerErr(err)
}

// scanQuery selects a window of one vehicle's index.
type scanQuery struct {
	vehicle  string
	reverse  bool
	from, to *time.Time
	skip     int
	limit    int // zero means no limit
}

// scan walks the vehicle index and hands each document to fn.
func (c collection) scan(q scanQuery, fn func(doc []byte) error) error {
	prefix := c.vehiclePrefix(q.vehicle)
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Reverse = q.reverse
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := prefix
		switch {
		case q.reverse:
			seek = append(append([]byte{}, prefix...), 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF)
		case q.from != nil:
			seek = append(append([]byte{}, prefix...), tsBytes(*q.from)...)
		}

		skipped, taken := 0, 0
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().Key()
			if len(key) < len(prefix)+8 {
				continue
			}
			tsPart := key[len(prefix) : len(prefix)+8]
			if q.to != nil && string(tsPart) > string(tsBytes(*q.to)) {
				break
			}
			if skipped < q.skip {
				skipped++
				continue
			}
			item, err := txn.Get(c.primaryKey(string(key[len(prefix)+8:])))
			if err != nil {
				return err
			}
			doc, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := fn(doc); err != nil {
				return err
			}
			taken++
			if q.limit > 0 && taken >= q.limit {
				break
			}
		}
		return nil
	})
	return mapBadgerErr(err)
}

func (c collection) count(vehicle string) (int64, error) {
	prefix := []byte(c.name + "v/")
	if vehicle != "" {
		prefix = c.vehiclePrefix(vehicle)
	}
	var n int64
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	return n, mapBadgerErr(err)
}

func decodeInto[T any](doc []byte) (*T, error) {
	var v T
	if err := json.Unmarshal(doc, &v); err != nil {
		return nil, fmt.Errorf("decode stored document: %w", err)
	}
	return &v, nil
}

func collect[T any](out *[]*T) func([]byte) error {
	return func(doc []byte) error {
		v, err := decodeInto[T](doc)
		if err != nil {
			return err
		}
		*out = append(*out, v)
		return nil
	}
}

// badgerTelemetry implements TelemetryStore.
type badgerTelemetry struct {
	c collection
}

func (s *badgerTelemetry) Insert(ctx context.Context, rec *model.TelemetryRecord) (err error) {
	defer observe(backendBadger, "telemetry_insert", time.Now(), &err)
	doc, err := model.EncodeTelemetry(rec)
	if err != nil {
		return err
	}
	m := docMeta{id: rec.ID, unique: rec.Key(), vehicle: rec.VehicleID, ts: rec.Timestamp}
	if err := s.c.insert(m, doc); err != nil {
		return fmt.Errorf("badger: insert telemetry %s: %w", rec.ID, err)
	}
	return nil
}

func (s *badgerTelemetry) FindByID(ctx context.Context, id string) (rec *model.TelemetryRecord, err error) {
	defer observe(backendBadger, "telemetry_find_id", time.Now(), &err)
	doc, err := s.c.get(id)
	if err != nil {
		return nil, fmt.Errorf("badger: telemetry %s: %w", id, err)
	}
	return decodeInto[model.TelemetryRecord](doc)
}

func (s *badgerTelemetry) FindByKey(ctx context.Context, vehicleID, contractID string, ts time.Time) (rec *model.TelemetryRecord, err error) {
	defer observe(backendBadger, "telemetry_find_key", time.Now(), &err)
	doc, err := s.c.lookup(model.TelemetryKey.Build(vehicleID, contractID, ts))
	if err != nil {
		return nil, fmt.Errorf("badger: telemetry by key: %w", err)
	}
	return decodeInto[model.TelemetryRecord](doc)
}

func (s *badgerTelemetry) Latest(ctx context.Context, vehicleID string) (*model.TelemetryRecord, error) {
	recs, err := s.History(ctx, vehicleID, 0, 1)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("badger: latest telemetry for %s: %w", vehicleID, ErrNotFound)
	}
	return recs[0], nil
}

func (s *badgerTelemetry) History(ctx context.Context, vehicleID string, page, size int) (out []*model.TelemetryRecord, err error) {
	defer observe(backendBadger, "telemetry_history", time.Now(), &err)
	if page < 0 || size <= 0 {
		return nil, fmt.Errorf("badger: invalid page %d size %d", page, size)
	}
	out = make([]*model.TelemetryRecord, 0, size)
	q := scanQuery{vehicle: vehicleID, reverse: true, skip: page * size, limit: size}
	if err := s.c.scan(q, collect(&out)); err != nil {
		return nil, fmt.Errorf("badger: telemetry history: %w", err)
	}
	return out, nil
}

func (s *badgerTelemetry) Range(ctx context.Context, vehicleID string, start, end time.Time) (out []*model.TelemetryRecord, err error) {
	defer observe(backendBadger, "telemetry_range", time.Now(), &err)
	out = make([]*model.TelemetryRecord, 0)
	if end.Before(start) {
		return out, nil
	}
	q := scanQuery{vehicle: vehicleID, from: &start, to: &end}
	if err := s.c.scan(q, collect(&out)); err != nil {
		return nil, fmt.Errorf("badger: telemetry range: %w", err)
	}
	return out, nil
}

func (s *badgerTelemetry) Count(ctx context.Context, vehicleID string) (int64, error) {
	return s.c.count(vehicleID)
}

func (s *badgerTelemetry) CountAll(ctx context.Context) (int64, error) {
	return s.c.count("")
}

// badgerEvents implements EventStore.
type badgerEvents struct {
	c collection
}

func (s *badgerEvents) Insert(ctx context.Context, ev *model.RiskEvent) (err error) {
	defer observe(backendBadger, "event_insert", time.Now(), &err)
	doc, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("badger: encode event: %w", err)
	}
	m := docMeta{id: ev.ID, unique: ev.Key(), vehicle: ev.VehicleID, ts: ev.Timestamp}
	if err := s.c.insert(m, doc); err != nil {
		return fmt.Errorf("badger: insert event %s: %w", ev.ID, err)
	}
	return nil
}

func (s *badgerEvents) FindByKey(ctx context.Context, vehicleID, contractID string, ts time.Time) (ev *model.RiskEvent, err error) {
	defer observe(backendBadger, "event_find_key", time.Now(), &err)
	doc, err := s.c.lookup(model.RiskEventKey.Build(vehicleID, contractID, ts))
	if err != nil {
		return nil, fmt.Errorf("badger: event by key: %w", err)
	}
	return decodeInto[model.RiskEvent](doc)
}

func (s *badgerEvents) ListByVehicle(ctx context.Context, vehicleID string, typ model.RiskEventType) (out []*model.RiskEvent, err error) {
	defer observe(backendBadger, "event_list", time.Now(), &err)
	out = make([]*model.RiskEvent, 0)
	err = s.c.scan(scanQuery{vehicle: vehicleID}, func(doc []byte) error {
		ev, err := decodeInto[model.RiskEvent](doc)
		if err != nil {
			return err
		}
		if typ == "" || ev.Type == typ {
			out = append(out, ev)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger: list events: %w", err)
	}
	return out, nil
}

// badgerContracts implements ContractStore. Contracts are indexed by
// vehicle and start date.
type badgerContracts struct {
	c collection
}

func contractMeta(c *model.InsuranceContract) docMeta {
	m := docMeta{id: c.ID, vehicle: c.VehicleID}
	if c.StartDate != nil {
		m.ts = *c.StartDate
	}
	return m
}

func (s *badgerContracts) Insert(ctx context.Context, c *model.InsuranceContract) (err error) {
	defer observe(backendBadger, "contract_insert", time.Now(), &err)
	doc, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("badger: encode contract: %w", err)
	}
	if err := s.c.insert(contractMeta(c), doc); err != nil {
		return fmt.Errorf("badger: insert contract %s: %w", c.ID, err)
	}
	return nil
}

func (s *badgerContracts) Update(ctx context.Context, c *model.InsuranceContract) (err error) {
	defer observe(backendBadger, "contract_update", time.Now(), &err)
	prev, err := s.FindByID(ctx, c.ID)
	if err != nil {
		return err
	}
	doc, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("badger: encode contract: %w", err)
	}
	if err := s.c.replace(contractMeta(prev), contractMeta(c), doc); err != nil {
		return fmt.Errorf("badger: update contract %s: %w", c.ID, err)
	}
	return nil
}

func (s *badgerContracts) FindByID(ctx context.Context, id string) (*model.InsuranceContract, error) {
	doc, err := s.c.get(id)
	if err != nil {
		return nil, fmt.Errorf("badger: contract %s: %w", id, err)
	}
	return decodeInto[model.InsuranceContract](doc)
}

func (s *badgerContracts) ListByVehicle(ctx context.Context, vehicleID string) (out []*model.InsuranceContract, err error) {
	defer observe(backendBadger, "contract_list", time.Now(), &err)
	out = make([]*model.InsuranceContract, 0)
	if err := s.c.scan(scanQuery{vehicle: vehicleID}, collect(&out)); err != nil {
		return nil, fmt.Errorf("badger: list contracts: %w", err)
	}
	return out, nil
}
