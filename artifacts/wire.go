package artifacts

import (
	"fmt"

	"github.com/INLOpen/nexustable/core"
	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the persisted messages:
//
//	message Index    { repeated Artifact artifacts = 1; }
//	message Artifact { string name = 1; uint32 status = 2; repeated File files = 3; }
//	message File     { string filename = 1; uint64 size = 2; fixed64 checksum = 3; }
const (
	fieldIndexArtifact = 1

	fieldArtifactName   = 1
	fieldArtifactStatus = 2
	fieldArtifactFile   = 3

	fieldFileName     = 1
	fieldFileSize     = 2
	fieldFileChecksum = 3
)

func marshalRefs(refs []Ref) []byte {
	var b []byte
	for _, r := range refs {
		b = protowire.AppendTag(b, fieldIndexArtifact, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalRef(r))
	}
	return b
}

func marshalRef(r Ref) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldArtifactName, protowire.BytesType)
	b = protowire.AppendString(b, r.Name)
	b = protowire.AppendTag(b, fieldArtifactStatus, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Status))
	for _, f := range r.Files {
		var fb []byte
		fb = protowire.AppendTag(fb, fieldFileName, protowire.BytesType)
		fb = protowire.AppendString(fb, f.Filename)
		fb = protowire.AppendTag(fb, fieldFileSize, protowire.VarintType)
		fb = protowire.AppendVarint(fb, f.Size)
		fb = protowire.AppendTag(fb, fieldFileChecksum, protowire.Fixed64Type)
		fb = protowire.AppendFixed64(fb, f.Checksum)

		b = protowire.AppendTag(b, fieldArtifactFile, protowire.BytesType)
		b = protowire.AppendBytes(b, fb)
	}
	return b
}

// walk calls fn for every field of a message. fn returns the number of bytes
// it consumed from the value, or a negative protowire error code.
func walk(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte) int) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("artifact index: %w: %w", core.ErrCorrupted, protowire.ParseError(n))
		}
		b = b[n:]
		m := fn(num, typ, b)
		if m < 0 {
			return fmt.Errorf("artifact index: field %d: %w: %w", num, core.ErrCorrupted, protowire.ParseError(m))
		}
		b = b[m:]
	}
	return nil
}

func unmarshalRefs(b []byte) ([]Ref, error) {
	var refs []Ref
	var inner error
	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte) int {
		if num != fieldIndexArtifact || typ != protowire.BytesType {
			return protowire.ConsumeFieldValue(num, typ, v)
		}
		msg, n := protowire.ConsumeBytes(v)
		if n < 0 {
			return n
		}
		ref, err := unmarshalRef(msg)
		if err != nil {
			inner = err
			return len(v)
		}
		refs = append(refs, ref)
		return n
	})
	if err != nil {
		return nil, err
	}
	return refs, inner
}

func unmarshalRef(b []byte) (Ref, error) {
	var r Ref
	var inner error
	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte) int {
		switch {
		case num == fieldArtifactName && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(v)
			r.Name = s
			return n
		case num == fieldArtifactStatus && typ == protowire.VarintType:
			s, n := protowire.ConsumeVarint(v)
			r.Status = Status(s)
			return n
		case num == fieldArtifactFile && typ == protowire.BytesType:
			msg, n := protowire.ConsumeBytes(v)
			if n < 0 {
				return n
			}
			f, err := unmarshalFile(msg)
			if err != nil {
				inner = err
				return len(v)
			}
			r.Files = append(r.Files, f)
			return n
		default:
			return protowire.ConsumeFieldValue(num, typ, v)
		}
	})
	if err == nil {
		err = inner
	}
	return r, err
}

func unmarshalFile(b []byte) (FileRef, error) {
	var f FileRef
	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte) int {
		switch {
		case num == fieldFileName && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(v)
			f.Filename = s
			return n
		case num == fieldFileSize && typ == protowire.VarintType:
			s, n := protowire.ConsumeVarint(v)
			f.Size = s
			return n
		case num == fieldFileChecksum && typ == protowire.Fixed64Type:
			s, n := protowire.ConsumeFixed64(v)
			f.Checksum = s
			return n
		default:
			return protowire.ConsumeFieldValue(num, typ, v)
		}
	})
	return f, err
}
