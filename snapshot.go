package offcache

import (
	"bytes"
	"fmt"
	"net/http"
	"sort"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/unkn0wn-root/offcache/codec"
)

// Snapshot is the stored form of a cached response.
type Snapshot struct {
	Status     int                 `json:"status" msgpack:"status" cbor:"1,keyasint"`
	StatusText string              `json:"status_text,omitempty" msgpack:"status_text,omitempty" cbor:"2,keyasint,omitempty"`
	URL        string              `json:"url,omitempty" msgpack:"url,omitempty" cbor:"3,keyasint,omitempty"`
	Body       []byte              `json:"body,omitempty" msgpack:"body,omitempty" cbor:"4,keyasint,omitempty"`
	StoredAt   time.Time           `json:"stored_at" msgpack:"stored_at" cbor:"5,keyasint"`
	Header     map[string][]string `json:"header,omitempty" msgpack:"header,omitempty" cbor:"6,keyasint,omitempty"`
}

func snapshotOf(r *Response, now time.Time) Snapshot {
	return Snapshot{
		Status:     r.Status,
		StatusText: r.StatusText,
		URL:        r.URL,
		Body:       r.Body,
		StoredAt:   now.UTC(),
		Header:     r.Header,
	}
}

// Response rebuilds the response the snapshot was taken from.
func (s Snapshot) Response() *Response {
	h := http.Header(s.Header).Clone()
	if h == nil {
		h = http.Header{}
	}
	return &Response{
		Status:     s.Status,
		StatusText: s.StatusText,
		Header:     h,
		Body:       s.Body,
		URL:        s.URL,
	}
}

// ProtoSnapshot encodes snapshots in protobuf wire format without generated code:
//
//	message Snapshot {
//	  int64  status      = 1;
//	  string status_text = 2;
//	  string url         = 3;
//	  bytes  body        = 4;
//	  int64  stored_at   = 5; // unix nanos
//	  repeated Header header = 6; // {string name = 1; string value = 2;}
//	}
//
// Header names are written sorted so equal snapshots encode to equal bytes.
type ProtoSnapshot struct{}

var _ codec.Codec[Snapshot] = ProtoSnapshot{}

const (
	fieldStatus     protowire.Number = 1
	fieldStatusText protowire.Number = 2
	fieldURL        protowire.Number = 3
	fieldBody       protowire.Number = 4
	fieldStoredAt   protowire.Number = 5
	fieldHeader     protowire.Number = 6

	fieldHeaderName  protowire.Number = 1
	fieldHeaderValue protowire.Number = 2
)

func (ProtoSnapshot) Encode(s Snapshot) ([]byte, error) {
	b := make([]byte, 0, len(s.Body)+64)
	b = protowire.AppendTag(b, fieldStatus, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(int64(s.Status)))
	if s.StatusText != "" {
		b = protowire.AppendTag(b, fieldStatusText, protowire.BytesType)
		b = protowire.AppendString(b, s.StatusText)
	}
	if s.URL != "" {
		b = protowire.AppendTag(b, fieldURL, protowire.BytesType)
		b = protowire.AppendString(b, s.URL)
	}
	if len(s.Body) > 0 {
		b = protowire.AppendTag(b, fieldBody, protowire.BytesType)
		b = protowire.AppendBytes(b, s.Body)
	}
	if !s.StoredAt.IsZero() {
		b = protowire.AppendTag(b, fieldStoredAt, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(s.StoredAt.UnixNano()))
	}

	names := make([]string, 0, len(s.Header))
	for name := range s.Header {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, v := range s.Header[name] {
			var hb []byte
			hb = protowire.AppendTag(hb, fieldHeaderName, protowire.BytesType)
			hb = protowire.AppendString(hb, name)
			hb = protowire.AppendTag(hb, fieldHeaderValue, protowire.BytesType)
			hb = protowire.AppendString(hb, v)
			b = protowire.AppendTag(b, fieldHeader, protowire.BytesType)
			b = protowire.AppendBytes(b, hb)
		}
	}
	return b, nil
}

func (ProtoSnapshot) Decode(b []byte) (Snapshot, error) {
	var s Snapshot
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Snapshot{}, protowire.ParseError(n)
		}
		b = b[n:]

		switch {
		case num == fieldStatus && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			s.Status = int(int64(v))
		case num == fieldStatusText && typ == protowire.BytesType:
			s.StatusText, n = protowire.ConsumeString(b)
		case num == fieldURL && typ == protowire.BytesType:
			s.URL, n = protowire.ConsumeString(b)
		case num == fieldBody && typ == protowire.BytesType:
			var v []byte
			v, n = protowire.ConsumeBytes(b)
			s.Body = bytes.Clone(v)
		case num == fieldStoredAt && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			s.StoredAt = time.Unix(0, int64(v)).UTC()
		case num == fieldHeader && typ == protowire.BytesType:
			var v []byte
			v, n = protowire.ConsumeBytes(b)
			if n >= 0 {
				name, value, err := decodeHeader(v)
				if err != nil {
					return Snapshot{}, err
				}
				if s.Header == nil {
					s.Header = make(map[string][]string)
				}
				s.Header[name] = append(s.Header[name], value)
			}
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return Snapshot{}, protowire.ParseError(n)
		}
		b = b[n:]
	}
	return s, nil
}

func decodeHeader(b []byte) (name, value string, err error) {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return "", "", protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case num == fieldHeaderName && typ == protowire.BytesType:
			name, n = protowire.ConsumeString(b)
		case num == fieldHeaderValue && typ == protowire.BytesType:
			value, n = protowire.ConsumeString(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return "", "", protowire.ParseError(n)
		}
		b = b[n:]
	}
	if name == "" {
		return "", "", fmt.Errorf("snapshot header: missing name")
	}
	return name, value, nil
}
