// Package db implements the transactional document store used by every
// repository: an in-memory store for local runs and tests, and a MongoDB
// store backed by multi-document transactions.
package db

import (
	"bytes"
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"post-mirror/domain/model"
	"post-mirror/domain/repository"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// GetAs decodes one document, returning nil when it does not exist.
func GetAs[T any](ctx context.Context, manager repository.TransactionManager, collection, id string) (*T, error) {
	raw, err := manager.Get(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	var out T
	if err := bson.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", collection, id, err)
	}
	return &out, nil
}

// QueryAs decodes every document matched by q.
func QueryAs[T any](ctx context.Context, manager repository.TransactionManager, q repository.Query) ([]T, error) {
	raws, err := manager.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(raws))
	for _, raw := range raws {
		var item T
		if err := bson.Unmarshal(raw, &item); err != nil {
			return nil, fmt.Errorf("decode %s: %w", q.Collection, err)
		}
		out = append(out, item)
	}
	return out, nil
}

// encode marshals doc and checks that its _id matches id.
func encode(collection, id string, doc interface{}) (bson.Raw, error) {
	if id == "" {
		return nil, fmt.Errorf("%s: empty document id", collection)
	}
	b, err := bson.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode %s/%s: %w", collection, id, err)
	}
	raw := bson.Raw(b)
	docID, err := raw.LookupErr("_id")
	if err != nil {
		return nil, fmt.Errorf("encode %s/%s: document has no _id", collection, id)
	}
	if s, ok := docID.StringValueOK(); !ok || s != id {
		return nil, fmt.Errorf("encode %s/%s: _id mismatch", collection, id)
	}
	return raw, nil
}

func rawValueOf(v interface{}) (bson.RawValue, error) {
	b, err := bson.Marshal(bson.D{{Key: "v", Value: v}})
	if err != nil {
		return bson.RawValue{}, err
	}
	return bson.Raw(b).LookupErr("v")
}

func lookupField(raw bson.Raw, field string) (bson.RawValue, bool) {
	val, err := raw.LookupErr(strings.Split(field, ".")...)
	if err != nil {
		return bson.RawValue{}, false
	}
	return val, true
}

func equalValues(a, b bson.RawValue) bool {
	if isNumeric(a) && isNumeric(b) {
		return compareValues(a, b) == 0
	}
	return a.Type == b.Type && bytes.Equal(a.Value, b.Value)
}

func isNumeric(v bson.RawValue) bool {
	_, ok := numeric(v)
	return ok
}

func numeric(v bson.RawValue) (float64, bool) {
	if i, ok := v.Int32OK(); ok {
		return float64(i), true
	}
	if i, ok := v.Int64OK(); ok {
		return float64(i), true
	}
	if f, ok := v.DoubleOK(); ok {
		return f, true
	}
	return 0, false
}

func compareValues(a, b bson.RawValue) int {
	if as, ok := a.StringValueOK(); ok {
		if bs, ok := b.StringValueOK(); ok {
			return strings.Compare(as, bs)
		}
	}
	if af, ok := numeric(a); ok {
		if bf, ok := numeric(b); ok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			default:
				return 0
			}
		}
	}
	return bytes.Compare(a.Value, b.Value)
}

// matches evaluates the conditions of a query against one document.
func matches(raw bson.Raw, where []repository.Condition) (bool, error) {
	for _, cond := range where {
		val, found := lookupField(raw, cond.Field)
		if !found {
			return false, nil
		}
		switch cond.Op {
		case repository.OpEq, "":
			want, err := rawValueOf(cond.Value)
			if err != nil {
				return false, err
			}
			if !equalValues(val, want) {
				return false, nil
			}
		case repository.OpGt:
			want, err := rawValueOf(cond.Value)
			if err != nil {
				return false, err
			}
			if compareValues(val, want) <= 0 {
				return false, nil
			}
		case repository.OpIn:
			rv := reflect.ValueOf(cond.Value)
			if rv.Kind() != reflect.Slice {
				return false, fmt.Errorf("operator in on %s needs a slice", cond.Field)
			}
			hit := false
			for i := 0; i < rv.Len() && !hit; i++ {
				want, err := rawValueOf(rv.Index(i).Interface())
				if err != nil {
					return false, err
				}
				hit = equalValues(val, want)
			}
			if !hit {
				return false, nil
			}
		default:
			return false, fmt.Errorf("unsupported operator %q", cond.Op)
		}
	}
	return true, nil
}

type touchedDoc struct {
	collection string
	id         string
}

// touchSet records written documents in write order, once each.
type touchSet struct {
	seen  map[touchedDoc]struct{}
	order []touchedDoc
}

func (t *touchSet) add(collection, id string) {
	if t.seen == nil {
		t.seen = make(map[touchedDoc]struct{})
	}
	key := touchedDoc{collection: collection, id: id}
	if _, ok := t.seen[key]; ok {
		return
	}
	t.seen[key] = struct{}{}
	t.order = append(t.order, key)
}

var signalKinds = map[string]model.EntityKind{
	repository.CollectionPosts:         model.EntityPost,
	repository.CollectionPlatformPosts: model.EntityPlatformPost,
}

// emitSignals notifies listeners about post and mirror writes of a committed unit of work.
func emitSignals(ctx context.Context, signaler repository.ISignaler, touched *touchSet) {
	if signaler == nil {
		return
	}
	now := time.Now().UnixMilli()
	for _, doc := range touched.order {
		kind, ok := signalKinds[doc.collection]
		if !ok {
			continue
		}
		signaler.Signal(ctx, model.ChangeSignal{EntityKind: kind, EntityID: doc.id, TimestampMs: now})
	}
}
