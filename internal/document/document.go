// Package document decodes semi-structured event payloads into a tree of
// generic values whose objects keep their keys in document order.
//
// Values in a decoded tree are one of: nil, bool, json.Number, string,
// []interface{} or Object.
package document

import (
	"encoding/json"
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var api = jsoniter.ConfigCompatibleWithStandardLibrary

// Field is a single key/value entry of an Object.
type Field struct {
	Key   string
	Value interface{}
}

// Object is a JSON object that preserves insertion order. Lookups are linear;
// event payload objects are small.
type Object []Field

// Get returns the value stored under key.
func (o Object) Get(key string) (interface{}, bool) {
	for _, f := range o {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// Lookup returns the value stored under key, or nil when absent.
func (o Object) Lookup(key string) interface{} {
	v, _ := o.Get(key)
	return v
}

// Object returns the nested object stored under key. Absent keys and values
// of any other kind yield nil.
func (o Object) Object(key string) Object {
	if obj, ok := o.Lookup(key).(Object); ok {
		return obj
	}
	return nil
}

// Has reports whether key is present.
func (o Object) Has(key string) bool {
	_, ok := o.Get(key)
	return ok
}

// Set stores value under key, replacing an existing entry in place.
func (o *Object) Set(key string, value interface{}) {
	for i := range *o {
		if (*o)[i].Key == key {
			(*o)[i].Value = value
			return
		}
	}
	*o = append(*o, Field{Key: key, Value: value})
}

// Keys returns the keys in document order.
func (o Object) Keys() []string {
	keys := make([]string, len(o))
	for i, f := range o {
		keys[i] = f.Key
	}
	return keys
}

// MarshalJSON encodes the object keeping its key order.
func (o Object) MarshalJSON() ([]byte, error) {
	return Marshal(o)
}

// Decode parses a JSON document into a generic value tree.
func Decode(data []byte) (interface{}, error) {
	iter := jsoniter.ParseBytes(api, data)
	v := readValue(iter)
	if iter.Error != nil {
		return nil, fmt.Errorf("document: %w", iter.Error)
	}
	return v, nil
}

// DecodeObject parses a JSON document that must be an object.
func DecodeObject(data []byte) (Object, error) {
	v, err := Decode(data)
	if err != nil {
		return nil, err
	}
	obj, ok := v.(Object)
	if !ok {
		return nil, fmt.Errorf("document: expected object, got %T", v)
	}
	return obj, nil
}

func readValue(iter *jsoniter.Iterator) interface{} {
	switch iter.WhatIsNext() {
	case jsoniter.ObjectValue:
		obj := Object{}
		iter.ReadMapCB(func(it *jsoniter.Iterator, key string) bool {
			obj.Set(key, readValue(it))
			return it.Error == nil
		})
		return obj
	case jsoniter.ArrayValue:
		arr := []interface{}{}
		iter.ReadArrayCB(func(it *jsoniter.Iterator) bool {
			arr = append(arr, readValue(it))
			return it.Error == nil
		})
		return arr
	case jsoniter.StringValue:
		return iter.ReadString()
	case jsoniter.NumberValue:
		return iter.ReadNumber()
	case jsoniter.BoolValue:
		return iter.ReadBool()
	case jsoniter.NilValue:
		iter.ReadNil()
		return nil
	default:
		iter.ReportError("readValue", "unexpected token")
		return nil
	}
}

// Marshal encodes a generic value tree as JSON.
func Marshal(v interface{}) ([]byte, error) {
	stream := api.BorrowStream(nil)
	defer api.ReturnStream(stream)

	writeValue(stream, v)
	if stream.Error != nil {
		return nil, fmt.Errorf("document: %w", stream.Error)
	}
	return append([]byte(nil), stream.Buffer()...), nil
}

func writeValue(s *jsoniter.Stream, v interface{}) {
	switch x := v.(type) {
	case Object:
		s.WriteObjectStart()
		for i, f := range x {
			if i > 0 {
				s.WriteMore()
			}
			s.WriteObjectField(f.Key)
			writeValue(s, f.Value)
		}
		s.WriteObjectEnd()
	case []interface{}:
		s.WriteArrayStart()
		for i, item := range x {
			if i > 0 {
				s.WriteMore()
			}
			writeValue(s, item)
		}
		s.WriteArrayEnd()
	case json.Number:
		s.WriteRaw(x.String())
	default:
		s.WriteVal(x)
	}
}
