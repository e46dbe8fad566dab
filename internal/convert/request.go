// Package convert maps between domain types and the structpb messages of the staff API.
package convert

import (
	"encoding/base64"
	"fmt"
	"math"
	"time"

	u "github.com/gofrs/uuid/v5"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/leaseflow/internal/errs"
	"github.com/and161185/leaseflow/internal/model"
)

// --- helpers ---

func field(in *structpb.Struct, key string) *structpb.Value {
	if in == nil {
		return nil
	}
	v := in.GetFields()[key]
	if _, null := v.GetKind().(*structpb.Value_NullValue); null {
		return nil
	}
	return v
}

func bad(key, why string) error {
	return fmt.Errorf("%s: %s: %w", key, why, errs.ErrInvalidArgument)
}

// --- scalar fields (client -> server) ---

// String returns a string field; absent fields read as "".
func String(in *structpb.Struct, key string) string {
	return field(in, key).GetStringValue()
}

// UUID parses a required UUID field.
func UUID(in *structpb.Struct, key string) (u.UUID, error) {
	s := String(in, key)
	if s == "" {
		return u.Nil, bad(key, "required")
	}
	id, err := u.FromString(s)
	if err != nil {
		return u.Nil, bad(key, "not a uuid")
	}
	return id, nil
}

// UUIDPtr parses an optional UUID field.
func UUIDPtr(in *structpb.Struct, key string) (*u.UUID, error) {
	if String(in, key) == "" {
		return nil, nil
	}
	id, err := UUID(in, key)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// Int64Ptr parses an optional integral number field.
func Int64Ptr(in *structpb.Struct, key string) (*int64, error) {
	v := field(in, key)
	if v == nil {
		return nil, nil
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return nil, bad(key, "not a number")
	}
	f := n.NumberValue
	if f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		return nil, bad(key, "not an integer")
	}
	i := int64(f)
	return &i, nil
}

// Int64 parses an integral number field; absent reads as 0.
func Int64(in *structpb.Struct, key string) (int64, error) {
	p, err := Int64Ptr(in, key)
	if err != nil || p == nil {
		return 0, err
	}
	return *p, nil
}

// Float64Ptr parses an optional number field.
func Float64Ptr(in *structpb.Struct, key string) (*float64, error) {
	v := field(in, key)
	if v == nil {
		return nil, nil
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return nil, bad(key, "not a number")
	}
	f := n.NumberValue
	return &f, nil
}

// TimePtr parses an optional RFC 3339 timestamp or YYYY-MM-DD date.
func TimePtr(in *structpb.Struct, key string) (*time.Time, error) {
	s := String(in, key)
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}
	return nil, bad(key, "not a date")
}

// Time parses a required date field.
func Time(in *structpb.Struct, key string) (time.Time, error) {
	t, err := TimePtr(in, key)
	if err != nil {
		return time.Time{}, err
	}
	if t == nil {
		return time.Time{}, bad(key, "required")
	}
	return *t, nil
}

// Bytes decodes a base64 string field.
func Bytes(in *structpb.Struct, key string) ([]byte, error) {
	s := String(in, key)
	if s == "" {
		return nil, nil
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, bad(key, "not base64")
	}
	return b, nil
}

// Map returns a nested object field as plain values; nil if absent.
func Map(in *structpb.Struct, key string) map[string]any {
	s := field(in, key).GetStructValue()
	if s == nil {
		return nil
	}
	return s.AsMap()
}

// --- edits ---

// Edit reads one edit from the fields of in.
func Edit(in *structpb.Struct) model.Edit {
	return model.Edit{
		EditType:     String(in, "edit_type"),
		Section:      String(in, "section"),
		OriginalText: String(in, "original_text"),
		NewText:      String(in, "new_text"),
		Reason:       String(in, "reason"),
	}
}

// Edits reads a list of edit objects.
func Edits(in *structpb.Struct, key string) ([]model.Edit, error) {
	v := field(in, key)
	if v == nil {
		return nil, nil
	}
	list := v.GetListValue()
	if list == nil {
		return nil, bad(key, "not a list")
	}
	out := make([]model.Edit, 0, len(list.GetValues()))
	for i, it := range list.GetValues() {
		s := it.GetStructValue()
		if s == nil {
			return nil, bad(fmt.Sprintf("%s[%d]", key, i), "not an object")
		}
		out = append(out, Edit(s))
	}
	return out, nil
}
