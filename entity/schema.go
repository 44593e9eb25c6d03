// Copyright 2025 Plenum Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package entity

// FieldType describes the normalized representation of a field value
type FieldType int

const (
	FieldTypeString FieldType = iota
	FieldTypeInt
	FieldTypeFloat
	FieldTypeBool
)

// fieldSchemas lists the known fields per entity kind. Updates arriving
// over the replication channel are normalized against this schema before
// being merged; fields not listed here are dropped at the reconciler
// boundary.
var fieldSchemas = map[Kind]map[string]FieldType{
	KindMember: {
		"dni":        FieldTypeString,
		"name":       FieldTypeString,
		"role":       FieldTypeString,
		"seat":       FieldTypeInt,
		"photo":      FieldTypeString,
		"present":    FieldTypeBool,
		"confirmed":  FieldTypeBool,
		"active":     FieldTypeBool,
		"vote":       FieldTypeString,
		"floor":      FieldTypeString,
		"credential": FieldTypeString,
	},
	KindMotion: {
		"title":        FieldTypeString,
		"body":         FieldTypeString,
		"proposerId":   FieldTypeString,
		"proposerName": FieldTypeString,
		"status":       FieldTypeString,
		"created":      FieldTypeString,
	},
	KindLedger: {
		"kind":        FieldTypeString,
		"amount":      FieldTypeFloat,
		"description": FieldTypeString,
		"created":     FieldTypeString,
	},
	KindConfig: {
		"phase":      FieldTypeString,
		"startTime":  FieldTypeString,
		"speakerId":  FieldTypeString,
		"activeVote": FieldTypeString,
		"projection": FieldTypeString,
	},
	KindVoteRecord: {
		"subject": FieldTypeString,
		"date":    FieldTypeString,
		"outcome": FieldTypeString,
		"yes":     FieldTypeInt,
		"no":      FieldTypeInt,
		"abstain": FieldTypeInt,
		"detail":  FieldTypeString,
	},
}

// KnownKind returns true if the kind has a schema
func KnownKind(kind Kind) bool {
	_, ok := fieldSchemas[kind]
	return ok
}

// NormalizeFields coerces a generic field map against the kind's schema.
// Unknown fields are dropped. Values that cannot be coerced to the
// schema type are dropped rather than rejected, since a malformed field
// from a remote replica must not prevent the rest of the update from
// merging. The reserved tombstone field is always preserved as a bool.
func NormalizeFields(
	kind Kind,
	fields map[string]any,
) map[string]any {
	schema, ok := fieldSchemas[kind]
	if !ok {
		return nil
	}
	ret := make(map[string]any, len(fields))
	for name, value := range fields {
		if name == TombstoneField {
			if b, ok := coerceBool(value); ok {
				ret[name] = b
			}
			continue
		}
		fieldType, ok := schema[name]
		if !ok {
			continue
		}
		switch fieldType {
		case FieldTypeString:
			if s, ok := value.(string); ok {
				ret[name] = s
			}
		case FieldTypeInt:
			if i, ok := coerceInt(value); ok {
				ret[name] = i
			}
		case FieldTypeFloat:
			if f, ok := coerceFloat(value); ok {
				ret[name] = f
			}
		case FieldTypeBool:
			if b, ok := coerceBool(value); ok {
				ret[name] = b
			}
		}
	}
	return ret
}

// coerceInt accepts the integer representations produced by the CBOR
// decoder and by local intent construction
func coerceInt(value any) (int64, bool) {
	switch v := value.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case uint64:
		if v > uint64(1)<<62 {
			return 0, false
		}
		return int64(v), true
	case float64:
		return int64(v), true
	}
	return 0, false
}

func coerceFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	case uint64:
		return float64(v), true
	}
	return 0, false
}

func coerceBool(value any) (bool, bool) {
	if b, ok := value.(bool); ok {
		return b, true
	}
	return false, false
}
