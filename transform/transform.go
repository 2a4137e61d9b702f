// Package transform describes the pluggable dataset marshaller spec.md §1
// lists as an external collaborator ("dataset marshalling/unmarshalling —
// pluggable transform functions described by signature only"). The core
// never inspects a PD/MD payload's structure; it only ever hands the raw
// bytes a Marshaller produced to the wire codec, and hands a Marshaller
// the raw bytes a codec decoded.
package transform

// Marshaller converts an application-level dataset to and from the wire
// bytes a Publication or MD request/reply carries. A session without a
// Marshaller treats Publish/Reply payloads as opaque bytes already in
// wire form.
type Marshaller interface {
	// Marshal encodes v (application-defined) into wire bytes for comId.
	Marshal(comID uint32, v interface{}) ([]byte, error)
	// Unmarshal decodes wire bytes received for comId back into an
	// application-defined value.
	Unmarshal(comID uint32, data []byte) (interface{}, error)
}

// Identity is the no-op Marshaller: Marshal/Unmarshal require v and the
// return value to already be []byte, matching a session that was opened
// without a marshaller (spec.md §4.1 "marshaller?" is optional).
type Identity struct{}

// Marshal implements Marshaller by requiring v to already be []byte.
func (Identity) Marshal(_ uint32, v interface{}) ([]byte, error) {
	b, ok := v.([]byte)
	if !ok {
		return nil, errNotBytes
	}
	return b, nil
}

// Unmarshal implements Marshaller by returning data unchanged.
func (Identity) Unmarshal(_ uint32, data []byte) (interface{}, error) {
	return data, nil
}

var errNotBytes = marshalError("transform: Identity.Marshal requires a []byte value")

type marshalError string

func (e marshalError) Error() string { return string(e) }
