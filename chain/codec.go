package chain

import (
	"bytes"
	"fmt"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/ipld/go-ipld-prime/codec/dagcbor"
	"github.com/ipld/go-ipld-prime/datamodel"
	"github.com/ipld/go-ipld-prime/fluent/qp"
	cidlink "github.com/ipld/go-ipld-prime/linking/cid"
	"github.com/ipld/go-ipld-prime/node/basicnode"
	"gopkg.in/yaml.v3"

	"github.com/rodent-software/tributary/dataset"
	"github.com/rodent-software/tributary/interval"
)

// blockVersion is written into every encoded block so old blocks remain
// parsable if the format ever changes.
const blockVersion = 1

// Encode serializes a block as dag-cbor. Field order is fixed, so encoding
// is deterministic and the digest of a block is stable.
func Encode(b *Block) ([]byte, error) {
	node, err := qp.BuildMap(basicnode.Prototype.Map, -1, func(ma datamodel.MapAssembler) {
		qp.MapEntry(ma, "apiVersion", qp.Int(blockVersion))
		if b.Prev.Defined() {
			qp.MapEntry(ma, "prev", qp.Link(cidlink.Link{Cid: b.Prev}))
		}
		qp.MapEntry(ma, "sequence", qp.Int(int64(b.Sequence)))
		qp.MapEntry(ma, "systemTime", qp.String(b.SystemTime.UTC().Format(time.RFC3339Nano)))
		switch p := b.Payload.(type) {
		case *DatasetDefinition:
			source, err := yaml.Marshal(&p.Source)
			if err != nil {
				panic(err)
			}
			qp.MapEntry(ma, "definition", qp.Map(-1, func(ma datamodel.MapAssembler) {
				qp.MapEntry(ma, "name", qp.String(p.Name))
				qp.MapEntry(ma, "schema", qp.String(p.Schema))
				qp.MapEntry(ma, "source", qp.Bytes(source))
			}))
		case *DataSlice:
			qp.MapEntry(ma, "slice", qp.Map(-1, func(ma datamodel.MapAssembler) {
				qp.MapEntry(ma, "object", qp.Link(cidlink.Link{Cid: p.Object}))
				qp.MapEntry(ma, "start", qp.String(p.Interval.Start.UTC().Format(time.RFC3339Nano)))
				qp.MapEntry(ma, "end", qp.String(p.Interval.End.UTC().Format(time.RFC3339Nano)))
				qp.MapEntry(ma, "numBytes", qp.Int(int64(p.NumBytes)))
				qp.MapEntry(ma, "numRecords", qp.Int(int64(p.NumRecords)))
			}))
		case *Checkpoint:
			qp.MapEntry(ma, "checkpoint", qp.Map(-1, func(ma datamodel.MapAssembler) {
				qp.MapEntry(ma, "token", qp.String(p.Token))
			}))
		default:
			panic(fmt.Errorf("no encoder for payload %T", b.Payload))
		}
	})
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := dagcbor.Encode(node, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode parses an encoded block.
func Decode(data []byte) (*Block, error) {
	nb := basicnode.Prototype.Map.NewBuilder()
	if err := dagcbor.Decode(nb, bytes.NewReader(data)); err != nil {
		return nil, err
	}
	node := nb.Build()

	version, err := lookupInt(node, "apiVersion")
	if err != nil {
		return nil, err
	}
	if version != blockVersion {
		return nil, fmt.Errorf("unsupported block version %d", version)
	}

	block := &Block{Prev: cid.Undef}
	if prev, ok := lookup(node, "prev"); ok {
		block.Prev, err = asCid(prev)
		if err != nil {
			return nil, err
		}
	}
	sequence, err := lookupInt(node, "sequence")
	if err != nil {
		return nil, err
	}
	block.Sequence = uint64(sequence)
	block.SystemTime, err = lookupTime(node, "systemTime")
	if err != nil {
		return nil, err
	}

	switch {
	case has(node, "definition"):
		block.Payload, err = decodeDefinition(node)
	case has(node, "slice"):
		block.Payload, err = decodeSlice(node)
	case has(node, "checkpoint"):
		block.Payload, err = decodeCheckpoint(node)
	default:
		return nil, fmt.Errorf("block has no payload")
	}
	if err != nil {
		return nil, err
	}
	return block, nil
}

func decodeDefinition(node datamodel.Node) (Payload, error) {
	def, _ := lookup(node, "definition")
	name, err := lookupString(def, "name")
	if err != nil {
		return nil, err
	}
	schema, err := lookupString(def, "schema")
	if err != nil {
		return nil, err
	}
	sourceNode, ok := lookup(def, "source")
	if !ok {
		return nil, fmt.Errorf("definition has no source")
	}
	sourceBytes, err := sourceNode.AsBytes()
	if err != nil {
		return nil, err
	}
	var source dataset.Source
	if err := yaml.Unmarshal(sourceBytes, &source); err != nil {
		return nil, fmt.Errorf("decoding definition source: %w", err)
	}
	return &DatasetDefinition{Name: name, Schema: schema, Source: source}, nil
}

func decodeSlice(node datamodel.Node) (Payload, error) {
	sl, _ := lookup(node, "slice")
	objectNode, ok := lookup(sl, "object")
	if !ok {
		return nil, fmt.Errorf("slice has no object")
	}
	id, err := asCid(objectNode)
	if err != nil {
		return nil, err
	}
	start, err := lookupTime(sl, "start")
	if err != nil {
		return nil, err
	}
	end, err := lookupTime(sl, "end")
	if err != nil {
		return nil, err
	}
	span, err := interval.New(start, end)
	if err != nil {
		return nil, err
	}
	numBytes, err := lookupInt(sl, "numBytes")
	if err != nil {
		return nil, err
	}
	numRecords, err := lookupInt(sl, "numRecords")
	if err != nil {
		return nil, err
	}
	return &DataSlice{
		Object:     id,
		Interval:   span,
		NumBytes:   uint64(numBytes),
		NumRecords: uint64(numRecords),
	}, nil
}

func decodeCheckpoint(node datamodel.Node) (Payload, error) {
	cp, _ := lookup(node, "checkpoint")
	token, err := lookupString(cp, "token")
	if err != nil {
		return nil, err
	}
	return &Checkpoint{Token: token}, nil
}

func lookup(node datamodel.Node, key string) (datamodel.Node, bool) {
	value, err := node.LookupByString(key)
	if err != nil || value == nil {
		return nil, false
	}
	return value, true
}

func has(node datamodel.Node, key string) bool {
	_, ok := lookup(node, key)
	return ok
}

func lookupString(node datamodel.Node, key string) (string, error) {
	value, ok := lookup(node, key)
	if !ok {
		return "", fmt.Errorf("block field %q missing", key)
	}
	return value.AsString()
}

func lookupInt(node datamodel.Node, key string) (int64, error) {
	value, ok := lookup(node, key)
	if !ok {
		return 0, fmt.Errorf("block field %q missing", key)
	}
	return value.AsInt()
}

func lookupTime(node datamodel.Node, key string) (time.Time, error) {
	value, err := lookupString(node, key)
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, value)
}

func asCid(node datamodel.Node) (cid.Cid, error) {
	link, err := node.AsLink()
	if err != nil {
		return cid.Undef, err
	}
	cl, ok := link.(cidlink.Link)
	if !ok {
		return cid.Undef, fmt.Errorf("unexpected link type %T", link)
	}
	return cl.Cid, nil
}
