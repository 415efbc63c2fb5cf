package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/magnusk/alliancevault/internal/backoff"
	"github.com/magnusk/alliancevault/internal/model"
)

const (
	// mongoPingTimeout bounds the construction health check, matching the
	// server selection timeout the upstream deployment uses.
	mongoPingTimeout = 10 * time.Second

	// mongoCloseTimeout bounds Disconnect during shutdown and error paths.
	mongoCloseTimeout = 5 * time.Second
)

// insertionOrder sorts documents by first-insert time; _id breaks ties
// within the same millisecond.
var insertionOrder = bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}

// OpenDurable connects to the MongoDB deployment at uri, health-checks it,
// and returns a Store in durable mode. The connection string must be
// well-formed; use [Resolve] for the fallback-aware boot path.
func OpenDurable(ctx context.Context, uri, database string) (*Store, error) {
	if err := checkMongoURI(uri); err != nil {
		return nil, err
	}
	b, err := openMongo(ctx, uri, database)
	if err != nil {
		return nil, err
	}
	return &Store{mode: ModeDurable, b: b}, nil
}

type mongoBackend struct {
	client *mongo.Client
	db     *mongo.Database
}

// openMongo connects and verifies the deployment is reachable before
// committing to it. The bounded retry applies only here, never to later
// operations.
func openMongo(ctx context.Context, uri, database string) (backend, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetServerAPIOptions(options.ServerAPI(options.ServerAPIVersion1)).
		SetServerSelectionTimeout(mongoPingTimeout)

	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("connecting to document store: %w: %w", ErrUnavailable, err)
	}

	err = backoff.Retry(ctx, backoff.DefaultMaxAttempts, func() error {
		pctx, cancel := context.WithTimeout(ctx, mongoPingTimeout)
		defer cancel()
		return client.Ping(pctx, readpref.Primary())
	})
	if err != nil {
		dctx, cancel := context.WithTimeout(context.Background(), mongoCloseTimeout)
		defer cancel()
		_ = client.Disconnect(dctx)
		return nil, fmt.Errorf("pinging document store: %w: %w", ErrUnavailable, err)
	}

	return &mongoBackend{client: client, db: client.Database(database)}, nil
}

func (b *mongoBackend) Members() MemberStore {
	return &mongoMembers{col: b.db.Collection("members")}
}

func (b *mongoBackend) GiftCodes() GiftCodeStore {
	return &mongoCodes{col: b.db.Collection("gift_codes")}
}

func (b *mongoBackend) Reminders() ReminderStore {
	return &mongoReminders{col: b.db.Collection("reminders")}
}

func (b *mongoBackend) Redemptions() RedemptionStore {
	return &mongoRedemptions{col: b.db.Collection("redemptions")}
}

func (b *mongoBackend) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), mongoCloseTimeout)
	defer cancel()
	return b.client.Disconnect(ctx)
}

// --- members -----------------------------------------------------------------

type mongoMembers struct {
	col *mongo.Collection
}

type mongoMemberDoc struct {
	ID        int64     `bson:"_id"`
	Nickname  string    `bson:"nickname"`
	FurnaceLv int       `bson:"furnace_lv"`
	Crystals  int       `bson:"crystals"`
	RefineLv  int       `bson:"refine_lv"`
	Alliance  string    `bson:"alliance"`
	Active    bool      `bson:"active"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func (d *mongoMemberDoc) model() *model.Member {
	return &model.Member{
		ID:           d.ID,
		Nickname:     d.Nickname,
		FurnaceLevel: d.FurnaceLv,
		Crystals:     d.Crystals,
		RefineLevel:  d.RefineLv,
		Alliance:     d.Alliance,
		Active:       d.Active,
		UpdatedAt:    d.UpdatedAt.UTC(),
	}
}

func (s *mongoMembers) Get(ctx context.Context, id int64) (*model.Member, error) {
	var doc mongoMemberDoc
	err := s.col.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	if err != nil {
		return nil, fmt.Errorf("loading member %d: %w", id, err)
	}
	return doc.model(), nil
}

func (s *mongoMembers) Upsert(ctx context.Context, m *model.Member) error {
	m.UpdatedAt = stamp()
	update := bson.M{
		"$set": bson.M{
			"nickname":   m.Nickname,
			"furnace_lv": m.FurnaceLevel,
			"crystals":   m.Crystals,
			"refine_lv":  m.RefineLevel,
			"alliance":   m.Alliance,
			"active":     m.Active,
			"updated_at": m.UpdatedAt,
		},
		"$setOnInsert": bson.M{"created_at": stamp()},
	}
	_, err := s.col.UpdateOne(ctx, bson.M{"_id": m.ID}, update, options.UpdateOne().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upserting member %d: %w", m.ID, err)
	}
	return nil
}

func (s *mongoMembers) Delete(ctx context.Context, id int64) error {
	res, err := s.col.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("deleting member %d: %w", id, err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("member %d: %w", id, ErrNotFound)
	}
	return nil
}

func (s *mongoMembers) List(ctx context.Context, f MemberFilter) ([]*model.Member, error) {
	filter := bson.M{}
	if f.Alliance != "" {
		filter["alliance"] = f.Alliance
	}
	if f.ActiveOnly {
		filter["active"] = true
	}

	cur, err := s.col.Find(ctx, filter, options.Find().SetSort(insertionOrder))
	if err != nil {
		return nil, fmt.Errorf("listing members: %w", err)
	}
	defer func() { _ = cur.Close(ctx) }()

	var members []*model.Member
	for cur.Next(ctx) {
		var doc mongoMemberDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decoding member document: %w", err)
		}
		members = append(members, doc.model())
	}
	return members, cur.Err()
}

// --- gift codes --------------------------------------------------------------

type mongoCodes struct {
	col *mongo.Collection
}

type mongoCodeDoc struct {
	ID        string    `bson:"_id"`
	Date      string    `bson:"date"`
	Status    string    `bson:"status"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func (d *mongoCodeDoc) model() *model.GiftCode {
	return &model.GiftCode{
		Code:      d.ID,
		Date:      d.Date,
		Status:    model.Status(d.Status),
		UpdatedAt: d.UpdatedAt.UTC(),
	}
}

func (s *mongoCodes) Get(ctx context.Context, code string) (*model.GiftCode, error) {
	code = model.NormalizeCode(code)
	var doc mongoCodeDoc
	err := s.col.FindOne(ctx, bson.M{"_id": code}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	if err != nil {
		return nil, fmt.Errorf("loading gift code %q: %w", code, err)
	}
	return doc.model(), nil
}

func (s *mongoCodes) Upsert(ctx context.Context, gc *model.GiftCode) error {
	gc.Code = model.NormalizeCode(gc.Code)
	if gc.Code == "" {
		return fmt.Errorf("upserting gift code: code is empty after normalization")
	}
	if gc.Status == "" {
		gc.Status = model.StatusPending
	}
	gc.UpdatedAt = stamp()

	update := bson.M{
		"$set": bson.M{
			"date":       gc.Date,
			"status":     string(gc.Status),
			"updated_at": gc.UpdatedAt,
		},
		"$setOnInsert": bson.M{"created_at": stamp()},
	}
	_, err := s.col.UpdateOne(ctx, bson.M{"_id": gc.Code}, update, options.UpdateOne().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upserting gift code %q: %w", gc.Code, err)
	}
	return nil
}

func (s *mongoCodes) SetStatus(ctx context.Context, code string, next model.Status) error {
	code = model.NormalizeCode(code)
	cur, err := s.Get(ctx, code)
	if err != nil {
		return err
	}
	if cur == nil {
		return fmt.Errorf("gift code %q: %w", code, ErrNotFound)
	}
	if cur.Status == next {
		return nil
	}
	if !cur.Status.CanTransitionTo(next) {
		return fmt.Errorf("gift code %q: %s to %s: %w", code, cur.Status, next, ErrInvalidTransition)
	}

	// Conditional on the status just read, so a concurrent transition
	// cannot be silently overwritten.
	res, err := s.col.UpdateOne(ctx,
		bson.M{"_id": code, "status": string(cur.Status)},
		bson.M{"$set": bson.M{"status": string(next), "updated_at": stamp()}},
	)
	if err != nil {
		return fmt.Errorf("updating gift code %q status: %w", code, err)
	}
	if res.MatchedCount == 0 {
		cur, err = s.Get(ctx, code)
		if err != nil {
			return err
		}
		if cur == nil {
			return fmt.Errorf("gift code %q: %w", code, ErrNotFound)
		}
		if cur.Status == next {
			return nil
		}
		return fmt.Errorf("gift code %q: %s to %s: %w", code, cur.Status, next, ErrInvalidTransition)
	}
	return nil
}

func (s *mongoCodes) Delete(ctx context.Context, code string) error {
	code = model.NormalizeCode(code)
	res, err := s.col.DeleteOne(ctx, bson.M{"_id": code})
	if err != nil {
		return fmt.Errorf("deleting gift code %q: %w", code, err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("gift code %q: %w", code, ErrNotFound)
	}
	return nil
}

func (s *mongoCodes) List(ctx context.Context, f CodeFilter) ([]*model.GiftCode, error) {
	filter := bson.M{}
	if f.Status != "" {
		filter["status"] = string(f.Status)
	}

	cur, err := s.col.Find(ctx, filter, options.Find().SetSort(insertionOrder))
	if err != nil {
		return nil, fmt.Errorf("listing gift codes: %w", err)
	}
	defer func() { _ = cur.Close(ctx) }()

	var codes []*model.GiftCode
	for cur.Next(ctx) {
		var doc mongoCodeDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decoding gift code document: %w", err)
		}
		codes = append(codes, doc.model())
	}
	return codes, cur.Err()
}

// --- reminders ---------------------------------------------------------------

type mongoReminders struct {
	col *mongo.Collection
}

type mongoReminderDoc struct {
	ID        string    `bson:"_id"`
	Owner     string    `bson:"owner"`
	AtUnix    int64     `bson:"at_unix"`
	Seq       int       `bson:"seq"`
	ChannelID string    `bson:"channel_id"`
	GuildID   string    `bson:"guild_id"`
	Message   string    `bson:"message"`
	Mention   string    `bson:"mention"`
	Recurring bool      `bson:"recurring"`
	EverySec  int64     `bson:"every_sec"`
	CreatedAt time.Time `bson:"created_at"`
}

func (d *mongoReminderDoc) model() *model.Reminder {
	return &model.Reminder{
		Owner:     d.Owner,
		At:        time.Unix(d.AtUnix, 0).UTC(),
		Seq:       d.Seq,
		ChannelID: d.ChannelID,
		GuildID:   d.GuildID,
		Message:   d.Message,
		Mention:   d.Mention,
		Recurring: d.Recurring,
		Every:     time.Duration(d.EverySec) * time.Second,
		CreatedAt: d.CreatedAt.UTC(),
	}
}

func (s *mongoReminders) Get(ctx context.Context, key string) (*model.Reminder, error) {
	var doc mongoReminderDoc
	err := s.col.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	if err != nil {
		return nil, fmt.Errorf("loading reminder %q: %w", key, err)
	}
	return doc.model(), nil
}

func (s *mongoReminders) Upsert(ctx context.Context, r *model.Reminder) error {
	// Reminder identity is second-granular; keep the stored time aligned
	// with the composite key.
	r.At = r.At.UTC().Truncate(time.Second)
	created := r.CreatedAt
	if created.IsZero() {
		created = stamp()
	}

	update := bson.M{
		"$set": bson.M{
			"owner":      r.Owner,
			"at_unix":    r.At.Unix(),
			"seq":        r.Seq,
			"channel_id": r.ChannelID,
			"guild_id":   r.GuildID,
			"message":    r.Message,
			"mention":    r.Mention,
			"recurring":  r.Recurring,
			"every_sec":  int64(r.Every / time.Second),
		},
		"$setOnInsert": bson.M{"created_at": created},
	}
	_, err := s.col.UpdateOne(ctx, bson.M{"_id": r.Key()}, update, options.UpdateOne().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upserting reminder %q: %w", r.Key(), err)
	}
	return nil
}

func (s *mongoReminders) Delete(ctx context.Context, key string) error {
	res, err := s.col.DeleteOne(ctx, bson.M{"_id": key})
	if err != nil {
		return fmt.Errorf("deleting reminder %q: %w", key, err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("reminder %q: %w", key, ErrNotFound)
	}
	return nil
}

func (s *mongoReminders) List(ctx context.Context, f ReminderFilter) ([]*model.Reminder, error) {
	filter := bson.M{}
	if f.Owner != "" {
		filter["owner"] = f.Owner
	}
	if !f.DueBefore.IsZero() {
		filter["at_unix"] = bson.M{"$lte": f.DueBefore.UTC().Unix()}
	}
	if f.Recurring != nil {
		filter["recurring"] = *f.Recurring
	}

	cur, err := s.col.Find(ctx, filter, options.Find().SetSort(insertionOrder))
	if err != nil {
		return nil, fmt.Errorf("listing reminders: %w", err)
	}
	defer func() { _ = cur.Close(ctx) }()

	var reminders []*model.Reminder
	for cur.Next(ctx) {
		var doc mongoReminderDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decoding reminder document: %w", err)
		}
		reminders = append(reminders, doc.model())
	}
	return reminders, cur.Err()
}

// --- redemptions -------------------------------------------------------------

type mongoRedemptions struct {
	col *mongo.Collection
}

type mongoRedemptionDoc struct {
	ID       string `bson:"_id"`
	MemberID int64  `bson:"member_id"`
	Code     string `bson:"code"`
	Status   string `bson:"status"`
}

func redemptionKey(memberID int64, code string) string {
	return fmt.Sprintf("%d|%s", memberID, code)
}

func (s *mongoRedemptions) Get(ctx context.Context, memberID int64, code string) (*model.Redemption, error) {
	code = model.NormalizeCode(code)
	var doc mongoRedemptionDoc
	err := s.col.FindOne(ctx, bson.M{"_id": redemptionKey(memberID, code)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil //nolint:nilnil // intentional: "not found" sentinel
	}
	if err != nil {
		return nil, fmt.Errorf("loading redemption %d/%q: %w", memberID, code, err)
	}
	return &model.Redemption{MemberID: doc.MemberID, Code: doc.Code, Status: doc.Status}, nil
}

func (s *mongoRedemptions) Upsert(ctx context.Context, r *model.Redemption) error {
	r.Code = model.NormalizeCode(r.Code)
	update := bson.M{
		"$set": bson.M{
			"member_id": r.MemberID,
			"code":      r.Code,
			"status":    r.Status,
		},
		"$setOnInsert": bson.M{"created_at": stamp()},
	}
	_, err := s.col.UpdateOne(ctx,
		bson.M{"_id": redemptionKey(r.MemberID, r.Code)}, update, options.UpdateOne().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upserting redemption %d/%q: %w", r.MemberID, r.Code, err)
	}
	return nil
}

func (s *mongoRedemptions) Delete(ctx context.Context, memberID int64, code string) error {
	code = model.NormalizeCode(code)
	res, err := s.col.DeleteOne(ctx, bson.M{"_id": redemptionKey(memberID, code)})
	if err != nil {
		return fmt.Errorf("deleting redemption %d/%q: %w", memberID, code, err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("redemption %d/%q: %w", memberID, code, ErrNotFound)
	}
	return nil
}

func (s *mongoRedemptions) List(ctx context.Context, f RedemptionFilter) ([]*model.Redemption, error) {
	filter := bson.M{}
	if f.MemberID != 0 {
		filter["member_id"] = f.MemberID
	}
	if f.Code != "" {
		filter["code"] = model.NormalizeCode(f.Code)
	}

	cur, err := s.col.Find(ctx, filter, options.Find().SetSort(insertionOrder))
	if err != nil {
		return nil, fmt.Errorf("listing redemptions: %w", err)
	}
	defer func() { _ = cur.Close(ctx) }()

	var recs []*model.Redemption
	for cur.Next(ctx) {
		var doc mongoRedemptionDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decoding redemption document: %w", err)
		}
		recs = append(recs, &model.Redemption{MemberID: doc.MemberID, Code: doc.Code, Status: doc.Status})
	}
	return recs, cur.Err()
}
