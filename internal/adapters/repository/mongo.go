package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/okian/riskpulse/internal/domain/model"
)

const backendMongo = "mongo"

// Collection names.
const (
	collTelemetry = "vehicle_data"
	collEvents    = "risk_events"
	collContracts = "insurance_contracts"
)

// MongoConfig holds connection settings for the MongoDB backend.
type MongoConfig struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
}

// OpenMongo connects, ensures indexes and returns the three stores.
func OpenMongo(ctx context.Context, cfg MongoConfig) (*Stores, error) {
	if cfg.URI == "" || cfg.Database == "" {
		return nil, errors.New("mongo: uri and database are required")
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(cctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("mongo: connect: %w", errors.Join(ErrUnavailable, err))
	}
	if err := client.Ping(cctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo: ping: %w", errors.Join(ErrUnavailable, err))
	}

	db := client.Database(cfg.Database)
	if err := ensureMongoIndexes(cctx, db); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	return &Stores{
		Backend:   backendMongo,
		Telemetry: &mongoTelemetry{coll: db.Collection(collTelemetry)},
		Events:    &mongoEvents{coll: db.Collection(collEvents)},
		Contracts: &mongoContracts{coll: db.Collection(collContracts)},
		close:     client.Disconnect,
	}, nil
}

func uniqueIndex(k model.UniqueKey) mongo.IndexModel {
	keys := bson.D{}
	for _, f := range k.Fields {
		keys = append(keys, bson.E{Key: mongoField(f), Value: 1})
	}
	return mongo.IndexModel{Keys: keys, Options: options.Index().SetName(k.Name).SetUnique(true)}
}

func ensureMongoIndexes(ctx context.Context, db *mongo.Database) error {
	byVehicleTime := mongo.IndexModel{Keys: bson.D{{Key: "vehicleId", Value: 1}, {Key: "timestampNanos", Value: -1}}}
	plan := map[string][]mongo.IndexModel{
		collTelemetry: {uniqueIndex(model.TelemetryKey), byVehicleTime},
		collEvents:    {uniqueIndex(model.RiskEventKey), byVehicleTime},
		collContracts: {{Keys: bson.D{{Key: "vehicleId", Value: 1}}}},
	}
	for name, models := range plan {
		if _, err := db.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("mongo: create indexes on %s: %w", name, err)
		}
	}
	return nil
}

func mapMongoErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return errors.Join(ErrNotFound, err)
	case mongo.IsDuplicateKeyError(err):
		return errors.Join(ErrConflict, err)
	case mongo.IsNetworkError(err), mongo.IsTimeout(err), errors.Is(err, mongo.ErrClientDisconnected):
		return errors.Join(ErrUnavailable, err)
	default:
		return err
	}
}

func keyFilter(vehicleID, contractID string, ts time.Time) bson.D {
	return bson.D{
		{Key: "vehicleId", Value: vehicleID},
		{Key: "contractId", Value: contractID},
		{Key: "timestampNanos", Value: ts.UnixNano()},
	}
}

// mongoTelemetry implements TelemetryStore.
type mongoTelemetry struct {
	coll *mongo.Collection
}

func (s *mongoTelemetry) Insert(ctx context.Context, rec *model.TelemetryRecord) (err error) {
	defer observe(backendMongo, "telemetry_insert", time.Now(), &err)
	if rec.ID == "" {
		return ErrMissingID
	}
	if _, err := s.coll.InsertOne(ctx, toTelemetryDoc(rec)); err != nil {
		return fmt.Errorf("mongo: insert telemetry %s: %w", rec.ID, mapMongoErr(err))
	}
	return nil
}

func (s *mongoTelemetry) findOne(ctx context.Context, filter any) (*model.TelemetryRecord, error) {
	var doc telemetryDoc
	if err := s.coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		return nil, mapMongoErr(err)
	}
	return fromTelemetryDoc(&doc)
}

func (s *mongoTelemetry) FindByID(ctx context.Context, id string) (rec *model.TelemetryRecord, err error) {
	defer observe(backendMongo, "telemetry_find_id", time.Now(), &err)
	rec, err = s.findOne(ctx, bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return nil, fmt.Errorf("mongo: telemetry %s: %w", id, err)
	}
	return rec, nil
}

func (s *mongoTelemetry) FindByKey(ctx context.Context, vehicleID, contractID string, ts time.Time) (rec *model.TelemetryRecord, err error) {
	defer observe(backendMongo, "telemetry_find_key", time.Now(), &err)
	rec, err = s.findOne(ctx, keyFilter(vehicleID, contractID, ts))
	if err != nil {
		return nil, fmt.Errorf("mongo: telemetry by key: %w", err)
	}
	return rec, nil
}

func (s *mongoTelemetry) Latest(ctx context.Context, vehicleID string) (rec *model.TelemetryRecord, err error) {
	defer observe(backendMongo, "telemetry_latest", time.Now(), &err)
	var doc telemetryDoc
	opts := options.FindOne().SetSort(bson.D{{Key: "timestampNanos", Value: -1}})
	if err := s.coll.FindOne(ctx, bson.D{{Key: "vehicleId", Value: vehicleID}}, opts).Decode(&doc); err != nil {
		return nil, fmt.Errorf("mongo: latest telemetry for %s: %w", vehicleID, mapMongoErr(err))
	}
	return fromTelemetryDoc(&doc)
}

func (s *mongoTelemetry) find(ctx context.Context, filter any, opts *options.FindOptions) ([]*model.TelemetryRecord, error) {
	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, mapMongoErr(err)
	}
	var docs []telemetryDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, mapMongoErr(err)
	}
	out := make([]*model.TelemetryRecord, 0, len(docs))
	for i := range docs {
		rec, err := fromTelemetryDoc(&docs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *mongoTelemetry) History(ctx context.Context, vehicleID string, page, size int) (out []*model.TelemetryRecord, err error) {
	defer observe(backendMongo, "telemetry_history", time.Now(), &err)
	if page < 0 || size <= 0 {
		return nil, fmt.Errorf("mongo: invalid page %d size %d", page, size)
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "timestampNanos", Value: -1}}).
		SetSkip(int64(page) * int64(size)).
		SetLimit(int64(size))
	out, err = s.find(ctx, bson.D{{Key: "vehicleId", Value: vehicleID}}, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo: telemetry history: %w", err)
	}
	return out, nil
}

func (s *mongoTelemetry) Range(ctx context.Context, vehicleID string, start, end time.Time) (out []*model.TelemetryRecord, err error) {
	defer observe(backendMongo, "telemetry_range", time.Now(), &err)
	filter := bson.D{
		{Key: "vehicleId", Value: vehicleID},
		{Key: "timestampNanos", Value: bson.D{{Key: "$gte", Value: start.UnixNano()}, {Key: "$lte", Value: end.UnixNano()}}},
	}
	out, err = s.find(ctx, filter, options.Find().SetSort(bson.D{{Key: "timestampNanos", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("mongo: telemetry range: %w", err)
	}
	return out, nil
}

func (s *mongoTelemetry) Count(ctx context.Context, vehicleID string) (n int64, err error) {
	defer observe(backendMongo, "telemetry_count", time.Now(), &err)
	n, err = s.coll.CountDocuments(ctx, bson.D{{Key: "vehicleId", Value: vehicleID}})
	if err != nil {
		return 0, fmt.Errorf("mongo: count telemetry: %w", mapMongoErr(err))
	}
	return n, nil
}

func (s *mongoTelemetry) CountAll(ctx context.Context) (n int64, err error) {
	defer observe(backendMongo, "telemetry_count_all", time.Now(), &err)
	n, err = s.coll.EstimatedDocumentCount(ctx)
	if err != nil {
		return 0, fmt.Errorf("mongo: count telemetry: %w", mapMongoErr(err))
	}
	return n, nil
}

// mongoEvents implements EventStore.
type mongoEvents struct {
	coll *mongo.Collection
}

func (s *mongoEvents) Insert(ctx context.Context, ev *model.RiskEvent) (err error) {
	defer observe(backendMongo, "event_insert", time.Now(), &err)
	if ev.ID == "" {
		return ErrMissingID
	}
	if _, err := s.coll.InsertOne(ctx, toEventDoc(ev)); err != nil {
		return fmt.Errorf("mongo: insert event %s: %w", ev.ID, mapMongoErr(err))
	}
	return nil
}

func (s *mongoEvents) FindByKey(ctx context.Context, vehicleID, contractID string, ts time.Time) (ev *model.RiskEvent, err error) {
	defer observe(backendMongo, "event_find_key", time.Now(), &err)
	var doc eventDoc
	if err := s.coll.FindOne(ctx, keyFilter(vehicleID, contractID, ts)).Decode(&doc); err != nil {
		return nil, fmt.Errorf("mongo: event by key: %w", mapMongoErr(err))
	}
	return fromEventDoc(&doc), nil
}

func (s *mongoEvents) ListByVehicle(ctx context.Context, vehicleID string, typ model.RiskEventType) (out []*model.RiskEvent, err error) {
	defer observe(backendMongo, "event_list", time.Now(), &err)
	filter := bson.D{{Key: "vehicleId", Value: vehicleID}}
	if typ != "" {
		filter = append(filter, bson.E{Key: "type", Value: string(typ)})
	}
	cur, err := s.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "timestampNanos", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("mongo: list events: %w", mapMongoErr(err))
	}
	var docs []eventDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongo: list events: %w", mapMongoErr(err))
	}
	out = make([]*model.RiskEvent, 0, len(docs))
	for i := range docs {
		out = append(out, fromEventDoc(&docs[i]))
	}
	return out, nil
}

// mongoContracts implements ContractStore.
type mongoContracts struct {
	coll *mongo.Collection
}

func (s *mongoContracts) Insert(ctx context.Context, c *model.InsuranceContract) (err error) {
	defer observe(backendMongo, "contract_insert", time.Now(), &err)
	if c.ID == "" {
		return ErrMissingID
	}
	if _, err := s.coll.InsertOne(ctx, toContractDoc(c)); err != nil {
		return fmt.Errorf("mongo: insert contract %s: %w", c.ID, mapMongoErr(err))
	}
	return nil
}

func (s *mongoContracts) Update(ctx context.Context, c *model.InsuranceContract) (err error) {
	defer observe(backendMongo, "contract_update", time.Now(), &err)
	res, err := s.coll.ReplaceOne(ctx, bson.D{{Key: "_id", Value: c.ID}}, toContractDoc(c))
	if err != nil {
		return fmt.Errorf("mongo: update contract %s: %w", c.ID, mapMongoErr(err))
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("mongo: update contract %s: %w", c.ID, ErrNotFound)
	}
	return nil
}

func (s *mongoContracts) FindByID(ctx context.Context, id string) (c *model.InsuranceContract, err error) {
	defer observe(backendMongo, "contract_find_id", time.Now(), &err)
	var doc contractDoc
	if err := s.coll.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&doc); err != nil {
		return nil, fmt.Errorf("mongo: contract %s: %w", id, mapMongoErr(err))
	}
	return fromContractDoc(&doc)
}

func (s *mongoContracts) ListByVehicle(ctx context.Context, vehicleID string) (out []*model.InsuranceContract, err error) {
	defer observe(backendMongo, "contract_list", time.Now(), &err)
	cur, err := s.coll.Find(ctx, bson.D{{Key: "vehicleId", Value: vehicleID}})
	if err != nil {
		return nil, fmt.Errorf("mongo: list contracts: %w", mapMongoErr(err))
	}
	var docs []contractDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongo: list contracts: %w", mapMongoErr(err))
	}
	out = make([]*model.InsuranceContract, 0, len(docs))
	for i := range docs {
		c, err := fromContractDoc(&docs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
