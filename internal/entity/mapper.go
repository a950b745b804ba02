// Package entity holds the domain records, the row mappers translating them
// to remote-store columns, and the generalized entity service every kind
// shares.
package entity

import (
	"strings"

	"github.com/google/uuid"

	"github.com/waslni/shipsync/internal/remote"
)

// Record is a domain entity: camelCase field names, JSON-compatible values.
type Record = map[string]any

// tempIDPrefix marks client-synthesized identifiers for offline creates.
const tempIDPrefix = "temp-"

// NewTempID synthesizes a placeholder identifier for an offline create.
func NewTempID() string {
	return tempIDPrefix + uuid.New().String()
}

// IsTempID reports whether id is a client-synthesized placeholder.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, tempIDPrefix)
}

// Field is one domain-field-to-column pair owned by a mapper.
type Field struct {
	Domain string
	Column string
}

// Mapper translates between domain records and remote rows for one table.
// Only owned fields cross the boundary; anything else is dropped, so the
// translation is lossless exactly over the owned set.
type Mapper struct {
	table       string
	fields      []Field
	domainToCol map[string]string
	colToDomain map[string]string
}

// NewMapper builds a mapper for table over the given fields.
func NewMapper(table string, fields []Field) *Mapper {
	m := &Mapper{
		table:       table,
		fields:      fields,
		domainToCol: make(map[string]string, len(fields)),
		colToDomain: make(map[string]string, len(fields)),
	}
	for _, f := range fields {
		m.domainToCol[f.Domain] = f.Column
		m.colToDomain[f.Column] = f.Domain
	}
	return m
}

// Table returns the remote table name.
func (m *Mapper) Table() string {
	return m.table
}

// ToRow maps the owned fields present in rec to their column names. Partial
// records stay partial: absent fields are absent from the row, never zeroed.
func (m *Mapper) ToRow(rec Record) remote.Row {
	row := make(remote.Row, len(rec))
	for domain, col := range m.domainToCol {
		if v, ok := rec[domain]; ok {
			row[col] = v
		}
	}
	return row
}

// FromRow maps the owned columns present in row back to domain field names.
func (m *Mapper) FromRow(row remote.Row) Record {
	rec := make(Record, len(row))
	for col, domain := range m.colToDomain {
		if v, ok := row[col]; ok {
			rec[domain] = v
		}
	}
	return rec
}

// Owns reports whether the mapper claims the given domain field.
func (m *Mapper) Owns(domain string) bool {
	_, ok := m.domainToCol[domain]
	return ok
}
