package amqp

import (
	"fmt"
	"sync"
)

// Schema resolves a struct domain name to its ordered field names. It stands
// in for the protocol definition loaded by the caller; wire codes are never
// consulted here.
type Schema interface {
	StructFields(name string) ([]string, bool)
}

// SchemaMap is a Schema backed by a literal map.
type SchemaMap map[string][]string

// StructFields returns the declared fields of the named struct.
func (schema SchemaMap) StructFields(name string) ([]string, bool) {
	fields, ok := schema[name]
	return fields, ok
}

// DefaultSchema lists the struct domains the client builds itself.
func DefaultSchema() Schema {
	return SchemaMap{
		"delivery-properties": {
			"discard-unroutable", "immediate", "redelivered", "priority", "delivery-mode",
			"ttl", "timestamp", "expiration", "exchange", "routing-key", "resume-id", "resume-ttl",
		},
		"message-properties": {
			"content-length", "message-id", "correlation-id", "reply-to", "content-type",
			"content-encoding", "user-id", "app-id", "application-headers",
		},
		"xid": {"format", "global-id", "branch-id"},
		"queue-query-result": {
			"queue", "alternate-exchange", "durable", "exclusive", "auto-delete",
			"arguments", "message-count", "subscriber-count",
		},
		"exchange-query-result": {"type", "durable", "not-found", "arguments"},
		"exchange-bound-result": {
			"exchange-not-found", "queue-not-found", "queue-not-matched", "key-not-matched", "args-not-matched",
		},
		"xa-result": {"status"},
	}
}

// Struct is an order-preserving field record of one schema domain. Unset
// fields hold nil.
type Struct struct {
	name   string
	fields []string
	values []interface{}
}

// Name is the struct type name.
func (record *Struct) Name() string { return record.name }

// Fields returns the field names in schema order.
func (record *Struct) Fields() []string {
	return append([]string(nil), record.fields...)
}

func (record *Struct) index(field string) int {
	for i, name := range record.fields {
		if name == field {
			return i
		}
	}
	return -1
}

// Get returns the value of field and whether the schema defines it.
func (record *Struct) Get(field string) (interface{}, bool) {
	i := record.index(field)
	if i < 0 {
		return nil, false
	}
	return record.values[i], true
}

// Set assigns a field by name and returns the receiver for chaining.
func (record *Struct) Set(field string, value interface{}) (*Struct, error) {
	i := record.index(field)
	if i < 0 {
		return record, NewError(UsageError, fmt.Sprintf("%s has no field %q", record.name, field))
	}
	record.values[i] = value
	return record, nil
}

func (record *Struct) String() string {
	return fmt.Sprintf("%s%v", record.name, record.values)
}

// StructConstructor builds a Struct from positional values.
type StructConstructor func(values ...interface{}) (*Struct, error)

// StructFactory hands out cached per-domain constructors.
type StructFactory struct {
	schema    Schema
	lock      sync.Mutex
	factories map[string]StructConstructor
}

// NewStructFactory returns a factory over schema. A nil schema accepts any field.
func NewStructFactory(schema Schema) *StructFactory {
	if schema == nil {
		schema = DefaultSchema()
	}
	return &StructFactory{schema: schema, factories: make(map[string]StructConstructor)}
}

// Constructor returns the constructor for name, failing for unknown domains.
func (factory *StructFactory) Constructor(name string) (StructConstructor, error) {
	factory.lock.Lock()
	defer factory.lock.Unlock()

	if constructor, ok := factory.factories[name]; ok {
		return constructor, nil
	}
	fields, ok := factory.schema.StructFields(name)
	if !ok {
		return nil, NewError(UsageError, fmt.Sprintf("unknown struct domain %q", name))
	}
	fields = append([]string(nil), fields...)

	constructor := func(values ...interface{}) (*Struct, error) {
		if len(values) > len(fields) {
			return nil, NewError(UsageError, fmt.Sprintf("%s takes at most %d values, got %d", name, len(fields), len(values)))
		}
		record := &Struct{name: name, fields: fields, values: make([]interface{}, len(fields))}
		copy(record.values, values)
		return record, nil
	}
	factory.factories[name] = constructor
	return constructor, nil
}

// New builds a Struct of domain name from positional values.
func (factory *StructFactory) New(name string, values ...interface{}) (*Struct, error) {
	constructor, err := factory.Constructor(name)
	if err != nil {
		return nil, err
	}
	return constructor(values...)
}
