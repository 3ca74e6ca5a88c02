package idempotency

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/hanko-field/fulfillment/internal/platform/firestore"
)

const collectionName = "idempotencyKeys"

// FirestoreStore persists records in the idempotencyKeys collection. Documents carry an
// expiresAt field suitable for a Firestore TTL policy.
type FirestoreStore struct {
	provider *pfirestore.Provider
	records  *pfirestore.Collection[storedRecord]
}

// NewFirestoreStore constructs a Firestore-backed store.
func NewFirestoreStore(provider *pfirestore.Provider) *FirestoreStore {
	return &FirestoreStore{
		provider: provider,
		records:  pfirestore.NewCollection[storedRecord](provider, collectionName),
	}
}

func (s *FirestoreStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	ref, err := s.records.Doc(ctx, documentID(key))
	if err != nil {
		return Reservation{}, err
	}

	var result Reservation
	err = s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		existing, err := getRecord(tx, ref)
		if err != nil {
			return err
		}
		res, found, err := reserveAgainst(existing, fingerprint, now)
		if found || err != nil {
			result = res
			return err
		}
		record := newPendingRecord(key, fingerprint, now, ttl)
		result = Reservation{State: ReservationStateNew, Record: record}
		return tx.Set(ref, toStored(record))
	})
	if errors.Is(err, ErrFingerprintMismatch) {
		return Reservation{}, ErrFingerprintMismatch
	}
	return result, err
}

func (s *FirestoreStore) Complete(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	ref, err := s.records.Doc(ctx, documentID(key))
	if err != nil {
		return err
	}
	err = s.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		existing, err := getRecord(tx, ref)
		if err != nil {
			return err
		}
		record := newPendingRecord(key, fingerprint, now, ttl)
		if existing != nil {
			if existing.Fingerprint != fingerprint {
				return ErrFingerprintMismatch
			}
			record = *existing
		}
		record.Status = StatusCompleted
		record.ResponseStatus = resp.Status
		record.ResponseHeader = storableHeader(resp.Header)
		record.ResponseBody = resp.Body
		record.ExpiresAt = now.Add(ttl)
		return tx.Set(ref, toStored(record))
	})
	if errors.Is(err, ErrFingerprintMismatch) {
		return ErrFingerprintMismatch
	}
	return err
}

func (s *FirestoreStore) Release(ctx context.Context, key string) error {
	return s.records.Delete(ctx, documentID(key))
}

// CleanupExpired deletes up to limit records whose expiresAt is at or before now. It backs
// environments where the Firestore TTL policy is not enabled.
func (s *FirestoreStore) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultCleanupBatch
	}
	docs, err := s.records.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("expiresAt", "<=", now).OrderBy("expiresAt", firestore.Asc).Limit(limit)
	})
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, doc := range docs {
		if err := s.records.Delete(ctx, doc.ID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func getRecord(tx *firestore.Transaction, ref *firestore.DocumentRef) (*Record, error) {
	snapshot, err := tx.Get(ref)
	if err != nil {
		var repoErr *pfirestore.Error
		if errors.As(pfirestore.WrapError("idempotency.get", err), &repoErr) && repoErr.IsNotFound() {
			return nil, nil
		}
		return nil, err
	}
	doc, err := pfirestore.Decode[storedRecord](snapshot)
	if err != nil {
		return nil, err
	}
	record := doc.Data.toRecord()
	return &record, nil
}

type storedRecord struct {
	Key            string              `firestore:"key"`
	Fingerprint    string              `firestore:"fingerprint"`
	Status         string              `firestore:"status"`
	ResponseStatus int                 `firestore:"responseStatus"`
	ResponseHeader map[string][]string `firestore:"responseHeader,omitempty"`
	ResponseBody   []byte              `firestore:"responseBody,omitempty"`
	CreatedAt      time.Time           `firestore:"createdAt"`
	ExpiresAt      time.Time           `firestore:"expiresAt"`
}

func toStored(r Record) storedRecord {
	return storedRecord{
		Key:            r.Key,
		Fingerprint:    r.Fingerprint,
		Status:         string(r.Status),
		ResponseStatus: r.ResponseStatus,
		ResponseHeader: r.ResponseHeader,
		ResponseBody:   r.ResponseBody,
		CreatedAt:      r.CreatedAt,
		ExpiresAt:      r.ExpiresAt,
	}
}

func (r storedRecord) toRecord() Record {
	return Record{
		Key:            r.Key,
		Fingerprint:    r.Fingerprint,
		Status:         Status(r.Status),
		ResponseStatus: r.ResponseStatus,
		ResponseHeader: r.ResponseHeader,
		ResponseBody:   r.ResponseBody,
		CreatedAt:      r.CreatedAt,
		ExpiresAt:      r.ExpiresAt,
	}
}
