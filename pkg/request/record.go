package request

import (
	"fmt"
	"time"
)

// Record is the serializable form of a Request
type Record struct {
	ID         string                     `yaml:"id" json:"id"`
	Type       string                     `yaml:"type" json:"type"`
	Status     string                     `yaml:"status" json:"status"`
	Realm      string                     `yaml:"realm,omitempty" json:"realm,omitempty"`
	Serviced   bool                       `yaml:"serviced" json:"serviced"`
	Attributes map[string]AttributeRecord `yaml:"attributes,omitempty" json:"attributes,omitempty"`
	Created    time.Time                  `yaml:"created" json:"created"`
	Modified   time.Time                  `yaml:"modified" json:"modified"`
}

// AttributeRecord is the serializable form of a Value. Only the
// field matching Kind is populated.
type AttributeRecord struct {
	Kind   string            `yaml:"kind" json:"kind"`
	String string            `yaml:"string,omitempty" json:"string,omitempty"`
	Bytes  []byte            `yaml:"bytes,omitempty" json:"bytes,omitempty"`
	List   []string          `yaml:"list,omitempty" json:"list,omitempty"`
	Map    map[string]string `yaml:"map,omitempty" json:"map,omitempty"`
}

// Record returns a point-in-time snapshot of the request
func (r *Request) Record() *Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	record := &Record{
		ID:         string(r.id),
		Type:       string(r.typ),
		Status:     string(r.status),
		Realm:      r.realm,
		Serviced:   r.serviced,
		Attributes: make(map[string]AttributeRecord, len(r.attributes)),
		Created:    r.created,
		Modified:   r.modified,
	}
	for name, value := range r.attributes {
		attr := AttributeRecord{Kind: value.Kind().String()}
		switch v := value.Clone().(type) {
		case String:
			attr.String = string(v)
		case Bytes:
			attr.Bytes = v
		case StringList:
			attr.List = v
		case Map:
			attr.Map = v
		}
		record.Attributes[name] = attr
	}
	return record
}

// FromRecord rebuilds a Request from its serialized form
func FromRecord(record *Record) (*Request, error) {
	typ, err := ParseType(record.Type)
	if err != nil {
		return nil, err
	}
	status, err := ParseStatus(record.Status)
	if err != nil {
		return nil, err
	}
	r := &Request{
		id:         ID(record.ID),
		typ:        typ,
		status:     status,
		realm:      record.Realm,
		serviced:   record.Serviced,
		attributes: make(Attributes, len(record.Attributes)),
		created:    record.Created,
		modified:   record.Modified,
	}
	for name, attr := range record.Attributes {
		kind, err := ParseKind(attr.Kind)
		if err != nil {
			return nil, fmt.Errorf("%w: attribute %s", err, name)
		}
		switch kind {
		case KindString:
			r.attributes[name] = String(attr.String)
		case KindBytes:
			r.attributes[name] = Bytes(attr.Bytes)
		case KindStringList:
			r.attributes[name] = StringList(attr.List)
		case KindMap:
			r.attributes[name] = Map(attr.Map)
		}
	}
	return r, nil
}
