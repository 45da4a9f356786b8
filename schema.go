// Copyright 2023 The acquirecloud Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package dynalock

// Schema maps the six logical lock fields onto the attribute names a
// backing store keeps them under, and carries the table/bucket name and
// (for stores that have the concept) provisioned throughput. Only the
// fields below participate in either mapping direction; unknown attributes
// are dropped silently on the way in, and missing ones read back as zero
// values.
type Schema struct {
	TableName string

	NameAttr     string
	DurationAttr string
	IsLockedAttr string
	OwnerAttr    string
	VersionAttr  string
	PayloadAttr  string

	// ReadCapacity and WriteCapacity are consulted only by backends that
	// provision throughput up front (DynamoDB); other backends ignore them.
	ReadCapacity  int64
	WriteCapacity int64
}

// DefaultSchema returns the attribute layout described in this package's
// design: table "Locks", attributes N/D/L/O/V/P, and 1/1 provisioned
// capacity.
func DefaultSchema() Schema {
	return Schema{
		TableName:     "Locks",
		NameAttr:      "N",
		DurationAttr:  "D",
		IsLockedAttr:  "L",
		OwnerAttr:     "O",
		VersionAttr:   "V",
		PayloadAttr:   "P",
		ReadCapacity:  1,
		WriteCapacity: 1,
	}
}

func (s Schema) withDefaults() Schema {
	d := DefaultSchema()
	if s.TableName == "" {
		s.TableName = d.TableName
	}
	if s.NameAttr == "" {
		s.NameAttr = d.NameAttr
	}
	if s.DurationAttr == "" {
		s.DurationAttr = d.DurationAttr
	}
	if s.IsLockedAttr == "" {
		s.IsLockedAttr = d.IsLockedAttr
	}
	if s.OwnerAttr == "" {
		s.OwnerAttr = d.OwnerAttr
	}
	if s.VersionAttr == "" {
		s.VersionAttr = d.VersionAttr
	}
	if s.PayloadAttr == "" {
		s.PayloadAttr = d.PayloadAttr
	}
	if s.ReadCapacity == 0 {
		s.ReadCapacity = d.ReadCapacity
	}
	if s.WriteCapacity == 0 {
		s.WriteCapacity = d.WriteCapacity
	}
	return s
}

// ToAttributes maps a Record's logical fields onto this schema's attribute
// names. Timestamp must not appear here: it is client-local and never
// leaves the process.
func (s Schema) ToAttributes(r Record) map[string]any {
	return map[string]any{
		s.NameAttr:     r.Name,
		s.DurationAttr: r.Duration,
		s.IsLockedAttr: r.IsLocked,
		s.OwnerAttr:    r.Owner,
		s.VersionAttr:  r.Version,
		s.PayloadAttr:  r.Payload,
	}
}

// FromAttributes is the reverse of ToAttributes. Attributes absent from m
// read back as the zero value of their field.
func (s Schema) FromAttributes(m map[string]any) Record {
	var r Record
	if v, ok := m[s.NameAttr].(string); ok {
		r.Name = v
	}
	if v, ok := m[s.DurationAttr]; ok {
		r.Duration = toInt64(v)
	}
	if v, ok := m[s.IsLockedAttr].(bool); ok {
		r.IsLocked = v
	}
	if v, ok := m[s.OwnerAttr].(string); ok {
		r.Owner = v
	}
	if v, ok := m[s.VersionAttr].(string); ok {
		r.Version = v
	}
	if v, ok := m[s.PayloadAttr].([]byte); ok {
		r.Payload = v
	}
	return r
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}
